package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"

	"github.com/lib/pq"
)

type OCRRepository interface {
	CreateResult(ctx context.Context, tx *sql.Tx, result *model.OCRResult) error
	CreateBox(ctx context.Context, tx *sql.Tx, box *model.OCRBox) error
	// FindResultByID loads the candidate boxes and the chosen box.
	FindResultByID(ctx context.Context, id string) (*model.OCRResult, error)
	FindResultsByIDs(ctx context.Context, ids []string) (map[string]*model.OCRResult, error)
	FindBoxByID(ctx context.Context, id string) (*model.OCRBox, error)
	// ChooseBox removes the box from the candidates and records it as the result's chosen box.
	ChooseBox(ctx context.Context, tx *sql.Tx, resultID, boxID string) error
	DeleteResult(ctx context.Context, tx *sql.Tx, id string) error
	DeleteBox(ctx context.Context, tx *sql.Tx, id string) error
}

type pgOCRRepository struct {
	db *sql.DB
}

func NewPgOCRRepository(db *sql.DB) OCRRepository {
	return &pgOCRRepository{db: db}
}

func (r *pgOCRRepository) CreateResult(ctx context.Context, tx *sql.Tx, res *model.OCRResult) error {
	query := `INSERT INTO ocr_results (id, content, owner_id) VALUES ($1, $2, $3) RETURNING created_at`
	if err := pick(r.db, tx).QueryRowContext(ctx, query, res.ID, res.Content, res.OwnerID).Scan(&res.CreatedAt); err != nil {
		return fmt.Errorf("pgOCRRepository.CreateResult: %w", err)
	}
	return nil
}

func (r *pgOCRRepository) CreateBox(ctx context.Context, tx *sql.Tx, b *model.OCRBox) error {
	query := `INSERT INTO ocr_boxes (id, x1, y1, x2, y2, detected_text, ocr_result_id)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := pick(r.db, tx).ExecContext(ctx, query, b.ID, b.X1, b.Y1, b.X2, b.Y2, b.DetectedText, nullString(b.OCRResultID))
	if err != nil {
		return fmt.Errorf("pgOCRRepository.CreateBox: %w", err)
	}
	return nil
}

func (r *pgOCRRepository) FindResultByID(ctx context.Context, id string) (*model.OCRResult, error) {
	results, err := r.FindResultsByIDs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	res, ok := results[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return res, nil
}

func (r *pgOCRRepository) FindResultsByIDs(ctx context.Context, ids []string) (map[string]*model.OCRResult, error) {
	results := make(map[string]*model.OCRResult, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	query := `SELECT r.id, r.content, r.owner_id, r.chosen_box_id, r.created_at, p.id
	          FROM ocr_results r
	          LEFT JOIN problems p ON p.ocr_result_id = r.id
	          WHERE r.id::text = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("pgOCRRepository.FindResultsByIDs query: %w", err)
	}
	defer rows.Close()

	var chosenIDs []string
	for rows.Next() {
		var (
			res               model.OCRResult
			chosen, problemID sql.NullString
		)
		if err := rows.Scan(&res.ID, &res.Content, &res.OwnerID, &chosen, &res.CreatedAt, &problemID); err != nil {
			return nil, fmt.Errorf("pgOCRRepository.FindResultsByIDs scan: %w", err)
		}
		res.ChosenBoxID = stringPtr(chosen)
		res.ProblemID = stringPtr(problemID)
		res.Boxes = []model.OCRBox{}
		if chosen.Valid {
			chosenIDs = append(chosenIDs, chosen.String)
		}
		results[res.ID] = &res
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("pgOCRRepository.FindResultsByIDs rows.Err: %w", err)
	}
	if len(results) == 0 {
		return results, nil
	}

	boxQuery := `SELECT id, x1, y1, x2, y2, detected_text, ocr_result_id
	             FROM ocr_boxes
	             WHERE ocr_result_id::text = ANY($1) OR id::text = ANY($2)
	             ORDER BY y1, x1`
	boxRows, err := r.db.QueryContext(ctx, boxQuery, pq.Array(ids), pq.Array(chosenIDs))
	if err != nil {
		return nil, fmt.Errorf("pgOCRRepository.FindResultsByIDs boxes query: %w", err)
	}
	defer boxRows.Close()

	chosenBoxes := make(map[string]model.OCRBox)
	for boxRows.Next() {
		b, err := scanBox(boxRows)
		if err != nil {
			return nil, fmt.Errorf("pgOCRRepository.FindResultsByIDs boxes scan: %w", err)
		}
		if b.OCRResultID != nil {
			if res, ok := results[*b.OCRResultID]; ok {
				res.Boxes = append(res.Boxes, *b)
			}
			continue
		}
		chosenBoxes[b.ID] = *b
	}
	if err = boxRows.Err(); err != nil {
		return nil, fmt.Errorf("pgOCRRepository.FindResultsByIDs boxes rows.Err: %w", err)
	}

	for _, res := range results {
		if res.ChosenBoxID == nil {
			continue
		}
		if b, ok := chosenBoxes[*res.ChosenBoxID]; ok {
			res.ChosenBox = &b
		}
	}
	return results, nil
}

func scanBox(row interface{ Scan(...interface{}) error }) (*model.OCRBox, error) {
	var (
		b        model.OCRBox
		resultID sql.NullString
	)
	if err := row.Scan(&b.ID, &b.X1, &b.Y1, &b.X2, &b.Y2, &b.DetectedText, &resultID); err != nil {
		return nil, err
	}
	b.OCRResultID = stringPtr(resultID)
	return &b, nil
}

func (r *pgOCRRepository) FindBoxByID(ctx context.Context, id string) (*model.OCRBox, error) {
	query := `SELECT id, x1, y1, x2, y2, detected_text, ocr_result_id FROM ocr_boxes WHERE id = $1`
	b, err := scanBox(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgOCRRepository.FindBoxByID: %w", err)
	}
	return b, nil
}

func (r *pgOCRRepository) ChooseBox(ctx context.Context, tx *sql.Tx, resultID, boxID string) error {
	q := pick(r.db, tx)
	if _, err := q.ExecContext(ctx, `UPDATE ocr_boxes SET ocr_result_id = NULL WHERE id = $1`, boxID); err != nil {
		return fmt.Errorf("pgOCRRepository.ChooseBox detach: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE ocr_results SET chosen_box_id = $1 WHERE id = $2`, boxID, resultID); err != nil {
		return fmt.Errorf("pgOCRRepository.ChooseBox: %w", err)
	}
	return nil
}

// DeleteResult also removes the remaining candidate boxes through the cascade.
func (r *pgOCRRepository) DeleteResult(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := pick(r.db, tx).ExecContext(ctx, `DELETE FROM ocr_results WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgOCRRepository.DeleteResult: %w", err)
	}
	return nil
}

func (r *pgOCRRepository) DeleteBox(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := pick(r.db, tx).ExecContext(ctx, `DELETE FROM ocr_boxes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgOCRRepository.DeleteBox: %w", err)
	}
	return nil
}
