package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"answer-ocr/api/internal/ocr"
)

var ErrNotFound = sql.ErrNoRows

type AnswerRepo struct{ DB *sql.DB }

func NewAnswerRepo(db *sql.DB) *AnswerRepo { return &AnswerRepo{DB: db} }

// AnswerRow: одна распознанная фотография ответа.
type AnswerRow struct {
	ID        int64
	CreatedAt time.Time
	ChatID    int64
	ImageHash string
	Result    ocr.Result
}

const schema = `
create table if not exists recognized_answers (
  id                  bigserial primary key,
  created_at          timestamptz not null default now(),
  chat_id             bigint,
  image_hash          text not null,
  provider            text not null default '',
  text                text not null default '',
  confidence          double precision not null default 0,
  confidence_measured boolean not null default false,
  corrected           boolean not null default false,
  success             boolean not null,
  error               text not null default '',
  error_kind          text not null default '',
  warning             text not null default '',
  request_id          text not null default ''
)`

const hashIndex = `
create index if not exists recognized_answers_hash_idx
  on recognized_answers (image_hash, created_at desc)`

func (r *AnswerRepo) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{schema, hashIndex} {
		if _, err := r.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Save пишет результат (успешный или нет) и возвращает id строки.
func (r *AnswerRepo) Save(ctx context.Context, chatID int64, imageHash string, res ocr.Result) (int64, error) {
	const q = `
insert into recognized_answers (
  chat_id, image_hash, provider, text, confidence, confidence_measured,
  corrected, success, error, error_kind, warning, request_id
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
returning id`
	var id int64
	err := r.DB.QueryRowContext(ctx, q,
		chatID, imageHash, res.Provider, res.Text, res.Confidence, res.ConfidenceMeasured,
		res.Corrected, res.Success, res.Error, string(res.ErrorKind), res.Warning, res.RequestID,
	).Scan(&id)
	return id, err
}

// FindByHash достаёт самый свежий успешный результат по хэшу картинки.
// Если maxAge > 0, более старые записи считаются отсутствующими.
func (r *AnswerRepo) FindByHash(ctx context.Context, imageHash string, maxAge time.Duration) (*AnswerRow, error) {
	const q = `
select id, created_at, coalesce(chat_id,0), image_hash,
       provider, text, confidence, confidence_measured, corrected, warning, request_id
from recognized_answers
where image_hash = $1 and success
order by created_at desc
limit 1`
	var (
		row AnswerRow
		res = ocr.Result{Success: true}
	)
	err := r.DB.QueryRowContext(ctx, q, imageHash).Scan(
		&row.ID, &row.CreatedAt, &row.ChatID, &row.ImageHash,
		&res.Provider, &res.Text, &res.Confidence, &res.ConfidenceMeasured, &res.Corrected, &res.Warning, &res.RequestID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	row.Result = res
	return &row, nil
}
