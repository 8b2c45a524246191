package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"zhicuoti/internal/domain/model"
)

// AnalyticsRepository aggregates problems in a scope. Nothing is cached.
type AnalyticsRepository interface {
	CountProblems(ctx context.Context, scope model.ProblemScope) (int, error)
	// CountBySubject keys by subject name and includes subjects with zero problems.
	CountBySubject(ctx context.Context, scope model.ProblemScope) (map[string]int, error)
	CreatedSince(ctx context.Context, scope model.ProblemScope, since time.Time) ([]time.Time, error)
	TagStats(ctx context.Context, scope model.ProblemScope, since time.Time) ([]TagStat, error)
}

// TagStat is one tag with its problem count in scope and the recent creation times.
type TagStat struct {
	TagID   string
	TagName string
	Count   int
	Recent  []time.Time
}

type pgAnalyticsRepository struct {
	db *sql.DB
}

func NewPgAnalyticsRepository(db *sql.DB) AnalyticsRepository {
	return &pgAnalyticsRepository{db: db}
}

func (r *pgAnalyticsRepository) CountProblems(ctx context.Context, scope model.ProblemScope) (int, error) {
	where := scopeWhere(scope)
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM problems p`+where.clause(), where.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgAnalyticsRepository.CountProblems: %w", err)
	}
	return n, nil
}

func (r *pgAnalyticsRepository) CountBySubject(ctx context.Context, scope model.ProblemScope) (map[string]int, error) {
	where := scopeWhere(scope)
	where.conds = append(where.conds, "p.subject_id = s.id")
	query := `SELECT s.name, (SELECT COUNT(*) FROM problems p` + where.clause() + `)
	          FROM subjects s`
	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("pgAnalyticsRepository.CountBySubject query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("pgAnalyticsRepository.CountBySubject scan: %w", err)
		}
		counts[name] = n
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgAnalyticsRepository.CountBySubject rows.Err: %w", err)
	}
	return counts, nil
}

func (r *pgAnalyticsRepository) CreatedSince(ctx context.Context, scope model.ProblemScope, since time.Time) ([]time.Time, error) {
	where := scopeWhere(scope)
	where.add("p.created_at >= $%[1]d", since)
	rows, err := r.db.QueryContext(ctx, `SELECT p.created_at FROM problems p`+where.clause(), where.args...)
	if err != nil {
		return nil, fmt.Errorf("pgAnalyticsRepository.CreatedSince query: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("pgAnalyticsRepository.CreatedSince scan: %w", err)
		}
		times = append(times, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgAnalyticsRepository.CreatedSince rows.Err: %w", err)
	}
	return times, nil
}

// TagStats folds the (tag, problem) pairs in scope into one entry per tag.
func (r *pgAnalyticsRepository) TagStats(ctx context.Context, scope model.ProblemScope, since time.Time) ([]TagStat, error) {
	where := scopeWhere(scope)
	query := `SELECT t.id, t.name, p.created_at
	          FROM problems p
	          JOIN problem_tags pt ON pt.problem_id = p.id
	          JOIN tags t ON t.id = pt.tag_id` + where.clause() + `
	          ORDER BY t.name`
	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, fmt.Errorf("pgAnalyticsRepository.TagStats query: %w", err)
	}
	defer rows.Close()

	var (
		stats []TagStat
		index = make(map[string]int)
	)
	for rows.Next() {
		var (
			id, name  string
			createdAt time.Time
		)
		if err := rows.Scan(&id, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("pgAnalyticsRepository.TagStats scan: %w", err)
		}
		i, ok := index[id]
		if !ok {
			i = len(stats)
			index[id] = i
			stats = append(stats, TagStat{TagID: id, TagName: name})
		}
		stats[i].Count++
		if !createdAt.Before(since) {
			stats[i].Recent = append(stats[i].Recent, createdAt)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgAnalyticsRepository.TagStats rows.Err: %w", err)
	}
	return stats, nil
}
