package records

import (
	"fmt"
	"testing"

	"github.com/go-pg/pg/v10/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatInsert(t *testing.T, rec *PredictionRecord) string {
	t.Helper()
	q := orm.NewInsertQuery(orm.NewQuery(nil, rec))
	b, err := q.AppendQuery(orm.NewFormatter(), nil)
	require.NoError(t, err)
	return string(b)
}

func TestInsertQueryWritesUID(t *testing.T) {
	for _, uid := range []int64{0, 7} {
		t.Run(fmt.Sprint(uid), func(t *testing.T) {
			rec, err := newRecord(Entry{
				RequestInfo: map[string]interface{}{"uid": uid, "image_id": "img"},
				ImageURL:    "https://images.example.com/a.jpg",
				Status:      "success",
				Result:      map[string]string{"status": "success"},
			})
			require.NoError(t, err)

			sql := formatInsert(t, rec)

			assert.Contains(t, sql, `INSERT INTO "model_predict_record"`)
			assert.Contains(t, sql, fmt.Sprintf("VALUES (DEFAULT, %d, 'img'", uid), sql)
		})
	}
}
