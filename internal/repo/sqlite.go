package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ideaflow/internal/domain"
)

// SQLStore keeps initiatives in the SQLite database opened by package db.
type SQLStore struct {
	DB *sql.DB
}

const initiativeColumns = `id,status,submitted_by,submitted_at,idea_json,analysis_json,
approved_by,approved_at,approval_reason,ado_work_item_id,rejected_by,rejected_at,rejection_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInitiative(row rowScanner) (domain.Initiative, error) {
	var (
		in                                  domain.Initiative
		status, ideaJSON, analysisJSON      string
		approvedBy, approvedAt, approvalWhy sql.NullString
		rejectedBy, rejectedAt, rejectWhy   sql.NullString
		workItem                            sql.NullInt64
	)
	err := row.Scan(&in.ID, &status, &in.SubmittedBy, &in.SubmittedAt, &ideaJSON, &analysisJSON,
		&approvedBy, &approvedAt, &approvalWhy, &workItem, &rejectedBy, &rejectedAt, &rejectWhy)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(ideaJSON), &in.Idea); err != nil {
		return in, fmt.Errorf("decode idea for %s: %w", in.ID, err)
	}
	if err := json.Unmarshal([]byte(analysisJSON), &in.Analysis); err != nil {
		return in, fmt.Errorf("decode analysis for %s: %w", in.ID, err)
	}
	in.ApprovedBy = nullString(approvedBy)
	in.ApprovedAt = nullString(approvedAt)
	in.ApprovalReason = nullString(approvalWhy)
	in.RejectedBy = nullString(rejectedBy)
	in.RejectedAt = nullString(rejectedAt)
	in.RejectionReason = nullString(rejectWhy)
	if workItem.Valid {
		v := workItem.Int64
		in.ADOWorkItemID = &v
	}
	return in, nil
}

func (r SQLStore) ListInitiatives(ctx context.Context, f Filter) ([]domain.Initiative, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" && f.Status != "all" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.SubmittedBy != "" {
		where = append(where, "submitted_by=?")
		args = append(args, f.SubmittedBy)
	}
	query := `SELECT ` + initiativeColumns + ` FROM initiatives`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY submitted_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list initiatives", err)
	}
	defer rows.Close()
	res := []domain.Initiative{}
	for rows.Next() {
		in, err := scanInitiative(rows)
		if err != nil {
			return nil, persistErr("list initiatives", err)
		}
		res = append(res, in)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list initiatives", err)
	}
	return res, nil
}

func (r SQLStore) GetInitiative(ctx context.Context, id string) (domain.Initiative, error) {
	in, err := scanInitiative(r.DB.QueryRowContext(ctx, `SELECT `+initiativeColumns+` FROM initiatives WHERE id=?`, id))
	return in, persistErr("get initiative", err)
}

func (r SQLStore) InsertInitiative(ctx context.Context, in domain.Initiative) (domain.Initiative, error) {
	args, err := initiativeArgs(in)
	if err != nil {
		return in, persistErr("insert initiative", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO initiatives(`+initiativeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return in, persistErr("insert initiative", err)
	}
	return in, nil
}

func (r SQLStore) MergePatchInitiative(ctx context.Context, id string, patch domain.InitiativePatch) (domain.Initiative, error) {
	return r.UpdateInitiative(ctx, id, constantPatch(patch))
}

// UpdateInitiative reads, patches and rewrites one row inside a transaction.
// Errors from fn are returned unwrapped.
func (r SQLStore) UpdateInitiative(ctx context.Context, id string, fn PatchFunc) (domain.Initiative, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Initiative{}, persistErr("begin update", err)
	}
	defer tx.Rollback()

	cur, err := scanInitiative(tx.QueryRowContext(ctx, `SELECT `+initiativeColumns+` FROM initiatives WHERE id=?`, id))
	if err != nil {
		return domain.Initiative{}, persistErr("get initiative", err)
	}
	patch, err := fn(cur)
	if err != nil {
		return cur, err
	}
	if patch.IsEmpty() {
		return cur, nil
	}
	next := patch.Apply(cur)
	args, err := initiativeArgs(next)
	if err != nil {
		return cur, persistErr("update initiative", err)
	}
	// args[0] is the id; move it to the WHERE clause.
	args = append(args[1:], next.ID)
	_, err = tx.ExecContext(ctx, `UPDATE initiatives SET status=?,submitted_by=?,submitted_at=?,idea_json=?,analysis_json=?,
approved_by=?,approved_at=?,approval_reason=?,ado_work_item_id=?,rejected_by=?,rejected_at=?,rejection_reason=? WHERE id=?`, args...)
	if err != nil {
		return cur, persistErr("update initiative", err)
	}
	if err := tx.Commit(); err != nil {
		return cur, persistErr("commit update", err)
	}
	return next, nil
}

func (r SQLStore) DeleteInitiative(ctx context.Context, id string) (domain.Initiative, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Initiative{}, persistErr("begin delete", err)
	}
	defer tx.Rollback()
	cur, err := scanInitiative(tx.QueryRowContext(ctx, `SELECT `+initiativeColumns+` FROM initiatives WHERE id=?`, id))
	if err != nil {
		return domain.Initiative{}, persistErr("get initiative", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM initiatives WHERE id=?`, id); err != nil {
		return domain.Initiative{}, persistErr("delete initiative", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Initiative{}, persistErr("commit delete", err)
	}
	return cur, nil
}

func (r SQLStore) WorkItemExists(ctx context.Context, workItemID int64) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM initiatives WHERE ado_work_item_id=? LIMIT 1`, workItemID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("lookup work item", err)
	}
	return true, nil
}

func (r SQLStore) Close() error {
	return r.DB.Close()
}

func initiativeArgs(in domain.Initiative) ([]any, error) {
	ideaJSON, err := json.Marshal(in.Idea)
	if err != nil {
		return nil, fmt.Errorf("encode idea: %w", err)
	}
	analysisJSON, err := json.Marshal(in.Analysis)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	var workItem any
	if in.ADOWorkItemID != nil {
		workItem = *in.ADOWorkItemID
	}
	return []any{
		in.ID, string(in.Status), in.SubmittedBy, in.SubmittedAt, string(ideaJSON), string(analysisJSON),
		nullable(in.ApprovedBy), nullable(in.ApprovedAt), nullable(in.ApprovalReason), workItem,
		nullable(in.RejectedBy), nullable(in.RejectedAt), nullable(in.RejectionReason),
	}, nil
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
