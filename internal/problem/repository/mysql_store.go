package repository

import (
	"context"
	"fmt"

	"judgebox/internal/common/db"
	"judgebox/internal/problem/model"
	appErr "judgebox/pkg/errors"
)

// MySQLStore reads problems from the problem table. Cases come from the data
// pack when the problem has one, otherwise from problem_test_case rows.
type MySQLStore struct {
	db    db.Querier
	packs *DataPackLoader
}

func NewMySQLStore(database db.Querier, packs *DataPackLoader) *MySQLStore {
	return &MySQLStore{db: database, packs: packs}
}

func (s *MySQLStore) GetProblem(ctx context.Context, problemID string) (*model.Problem, error) {
	query := `
		SELECT id, title, difficulty, data_pack_key, data_pack_hash, updated_at
		FROM problem
		WHERE id = ?`
	var p model.Problem
	err := s.db.QueryRow(ctx, query, problemID).Scan(
		&p.ID,
		&p.Title,
		&p.Difficulty,
		&p.DataPackKey,
		&p.DataPackHash,
		&p.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed: %v", err)
	}
	return &p, nil
}

func (s *MySQLStore) GetTestCases(ctx context.Context, problemID string) ([]model.TestCase, error) {
	p, err := s.GetProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	var cases []model.TestCase
	if p.DataPackKey != "" {
		if s.packs == nil {
			return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("data pack storage is not configured")
		}
		cases, err = s.packs.Load(ctx, p.DataPackKey, p.DataPackHash)
	} else {
		cases, err = s.queryCases(ctx, problemID)
	}
	if err != nil {
		return nil, err
	}
	if err := validateCases(problemID, cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (s *MySQLStore) queryCases(ctx context.Context, problemID string) ([]model.TestCase, error) {
	query := `
		SELECT case_id, input, expected, visible
		FROM problem_test_case
		WHERE problem_id = ?
		ORDER BY ordinal ASC`
	rows, err := s.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query test cases failed: %v", err)
	}
	defer rows.Close()

	var cases []model.TestCase
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.Input, &tc.Expected, &tc.Visible); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan test case failed: %v", err)
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrap(fmt.Errorf("iterate test cases: %w", err), appErr.DatabaseError)
	}
	return cases, nil
}
