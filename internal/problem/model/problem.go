package model

import (
	"time"

	"judgebox/internal/exec/judge"
)

// Problem is the metadata the judge needs to locate a problem's cases.
type Problem struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	Difficulty string    `json:"difficulty,omitempty" yaml:"difficulty"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"-"`

	// DataPackKey points at a tar.zst archive in object storage.
	// When empty the cases come from the store itself.
	DataPackKey  string `json:"-" yaml:"dataPackKey"`
	DataPackHash string `json:"-" yaml:"dataPackHash"`
}

// TestCase aliases the judge's case type so stores hand cases over without copying.
type TestCase = judge.TestCase
