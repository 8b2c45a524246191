package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"zhicuoti/internal/domain/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func pick(db *sql.DB, tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return db
}

// whereBuilder numbers placeholders as conditions are added.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

// add appends cond, where every %[1]d is replaced with the new placeholder index.
func (b *whereBuilder) add(cond string, arg interface{}) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, fmt.Sprintf(cond, len(b.args)))
}

func (b *whereBuilder) next(arg interface{}) string {
	b.args = append(b.args, arg)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func scopeWhere(scope model.ProblemScope) *whereBuilder {
	b := &whereBuilder{}
	if scope.OwnerID != "" {
		b.add("p.owner_id = $%[1]d", scope.OwnerID)
	}
	if scope.ClassID != "" {
		b.add("p.owner_id IN (SELECT id FROM users WHERE class_id = $%[1]d)", scope.ClassID)
	}
	if scope.SubjectID != "" {
		b.add("p.subject_id = $%[1]d", scope.SubjectID)
	}
	if scope.TagID != "" {
		b.add("EXISTS (SELECT 1 FROM problem_tags spt WHERE spt.problem_id = p.id AND spt.tag_id = $%[1]d)", scope.TagID)
	}
	return b
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func answerTypeArg(t *model.AnswerType) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*t), Valid: true}
}

func answerTypePtr(ns sql.NullString) *model.AnswerType {
	if !ns.Valid {
		return nil
	}
	t := model.AnswerType(ns.String)
	return &t
}
