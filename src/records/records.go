package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"age-classifier/src/db"
	"age-classifier/src/metrics"

	"github.com/rs/zerolog"
)

// PredictionRecord is one append-only row of model_predict_record.
type PredictionRecord struct {
	tableName struct{} `pg:"model_predict_record"`

	ID          int64     `pg:"id,pk"`
	UID         int64     `pg:"uid,use_zero"`
	ImageID     string    `pg:"image_id"`
	Models      []string  `pg:"models,array"`
	Status      string    `pg:"status"`
	ImageURL    string    `pg:"image_url"`
	Result      string    `pg:"result,type:jsonb"`       // JSON encoded response body.
	RequestInfo string    `pg:"request_info,type:jsonb"` // JSON encoded caller request_info.
	CreatedAt   time.Time `pg:"created_at,default:now()"`
	UpdatedAt   time.Time `pg:"updated_at,default:now()"`
}

// CorrelationIDs are the caller supplied identifiers used to look a record up later.
type CorrelationIDs struct {
	UID     int64
	ImageID string
	Model   string
}

var errMissingUID = errors.New("request_info has no uid")

// ParseCorrelation extracts uid, image_id and model from request_info. The
// uid must be an integer or a string holding one.
func ParseCorrelation(info map[string]interface{}) (CorrelationIDs, error) {
	var ids CorrelationIDs

	raw, ok := info["uid"]
	if !ok || raw == nil {
		return ids, errMissingUID
	}

	uid, err := toInt64(raw)
	if err != nil {
		return ids, fmt.Errorf("invalid uid %v: %w", raw, err)
	}
	ids.UID = uid

	if v, ok := info["image_id"]; ok && v != nil {
		ids.ImageID = fmt.Sprint(v)
	}
	if v, ok := info["model"].(string); ok {
		ids.Model = v
	}

	return ids, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.New("not an integer")
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// ConnProvider hands out scoped connections. *db.Manager implements it.
type ConnProvider interface {
	WithConn(ctx context.Context, fn func(db.Conn) error) error
}

// Entry is one classification attempt to persist.
type Entry struct {
	RequestInfo map[string]interface{}
	Models      []string
	ImageURL    string
	Status      string
	Result      interface{}
}

// Recorder persists classification attempts. Persistence is best effort:
// failures are logged and never returned.
type Recorder struct {
	conns   ConnProvider
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(conns ConnProvider, logger zerolog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		conns:   conns,
		logger:  logger.With().Str("component", "recorder").Logger(),
		metrics: m,
	}
}

// Record inserts e and returns the new row id, or false when nothing was written.
func (r *Recorder) Record(ctx context.Context, e Entry) (int64, bool) {
	logger := r.logger.With().
		Strs("models", e.Models).
		Str("status", e.Status).
		Str("image_url", e.ImageURL).
		Fields(e.RequestInfo).
		Logger()

	rec, err := newRecord(e)
	if err != nil {
		r.metrics.IncRecord("failed")
		logger.Error().Err(err).Msg("failed to build prediction record")
		return 0, false
	}

	err = r.conns.WithConn(ctx, func(conn db.Conn) error {
		return conn.Insert(ctx, rec)
	})
	if errors.Is(err, db.ErrUnavailable) {
		r.metrics.IncRecord("skipped")
		logger.Warn().Msg("skipping database insertion, no connection available")
		return 0, false
	}
	if err != nil {
		r.metrics.IncRecord("failed")
		logger.Error().Err(err).Msg("failed to insert prediction record")
		return 0, false
	}

	r.metrics.IncRecord("inserted")
	logger.Info().Int64("id", rec.ID).Msg("prediction record saved")
	return rec.ID, true
}

func newRecord(e Entry) (*PredictionRecord, error) {
	ids, err := ParseCorrelation(e.RequestInfo)
	if err != nil {
		return nil, err
	}

	result, err := json.Marshal(e.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	info := e.RequestInfo
	if info == nil {
		info = map[string]interface{}{}
	}
	requestInfo, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request_info: %w", err)
	}

	models := e.Models
	if len(models) == 0 && ids.Model != "" {
		models = []string{ids.Model}
	}

	return &PredictionRecord{
		UID:         ids.UID,
		ImageID:     ids.ImageID,
		Models:      models,
		Status:      e.Status,
		ImageURL:    e.ImageURL,
		Result:      string(result),
		RequestInfo: string(requestInfo),
	}, nil
}
