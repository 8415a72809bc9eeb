package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/airsync/internal/domain"
)

func openTemp(t *testing.T) *SQL {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "ref", "airlines.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestSQL_InsertAndLoadAll_KeepsNullVsEmpty(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	id, err := s.Insert(ctx, domain.Candidate{
		IATA: domain.Some("AA"), ICAO: domain.Some("AAL"), Name: "American Airlines",
		Callsign: domain.Some("AMERICAN"), Country: domain.Some("United States"),
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.DB().ExecContext(ctx, `INSERT INTO airlines (name, iata, icao, callsign, country) VALUES ('Legacy', '', NULL, '', NULL)`)
	require.NoError(t, err)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, id, all[0].ID)
	assert.Equal(t, "American Airlines", all[0].Name)
	assert.Equal(t, domain.Some("AAL"), all[0].ICAO)

	assert.Equal(t, domain.Some(""), all[1].IATA, "空串必须原样保留（由索引层规范化）")
	assert.False(t, all[1].ICAO.Valid)
	assert.Equal(t, domain.Some(""), all[1].Callsign)
	assert.False(t, all[1].Country.Valid)
}

func TestSQL_UpdateFields(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	id, err := s.Insert(ctx, domain.Candidate{Name: "Old", IATA: domain.Some("OO")})
	require.NoError(t, err)

	require.NoError(t, s.UpdateFields(ctx, id, domain.FieldSet{
		domain.FieldName:     "O'Neil Air",
		domain.FieldCallsign: "ONEIL",
	}))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "O'Neil Air", all[0].Name, "引号必须由参数绑定处理")
	assert.Equal(t, domain.Some("ONEIL"), all[0].Callsign)
	assert.Equal(t, domain.Some("OO"), all[0].IATA)

	err = s.UpdateFields(ctx, id, domain.FieldSet{"country; DROP TABLE airlines": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownField))
	assert.True(t, IsStoreError(err))

	require.NoError(t, s.UpdateFields(ctx, id, nil))
}

func TestSQL_MergeMovesFlightsAndDeletesDupe(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	keep, err := s.Insert(ctx, domain.Candidate{Name: "Keep", IATA: domain.Some("KP")})
	require.NoError(t, err)
	dupe, err := s.Insert(ctx, domain.Candidate{Name: "Keep", IATA: domain.Some("KP")})
	require.NoError(t, err)

	for _, alid := range []int64{keep, dupe, dupe} {
		_, err := s.DB().ExecContext(ctx, `INSERT INTO flights (alid) VALUES (?)`, alid)
		require.NoError(t, err)
	}

	require.NoError(t, s.Merge(ctx, keep, dupe))

	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM flights WHERE alid = ?`, keep).Scan(&n))
	assert.Equal(t, 3, n)
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM flights WHERE alid = ?`, dupe).Scan(&n))
	assert.Equal(t, 0, n)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep, all[0].ID)

	assert.Error(t, s.Merge(ctx, keep, keep))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	require.Error(t, err)

	_, err = Open(context.Background(), DriverPostgres, "")
	require.Error(t, err)
}

func TestSQL_RebindForPostgres(t *testing.T) {
	s := &SQL{driver: DriverPostgres}
	assert.Equal(t, `UPDATE airlines SET name = $1, iata = $2 WHERE alid = $3`,
		s.rebind(`UPDATE airlines SET name = ?, iata = ? WHERE alid = ?`))

	s = &SQL{driver: DriverSQLite}
	assert.Equal(t, `DELETE FROM airlines WHERE alid = ?`, s.rebind(`DELETE FROM airlines WHERE alid = ?`))
}

func TestRecorder_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	id, err := s.Insert(ctx, domain.Candidate{Name: "Existing"})
	require.NoError(t, err)

	r := NewRecorder(s)
	got, err := r.Insert(ctx, domain.Candidate{Name: "New"})
	require.NoError(t, err)
	assert.Zero(t, got)
	require.NoError(t, r.UpdateFields(ctx, id, domain.FieldSet{domain.FieldName: "Renamed"}))
	require.NoError(t, r.Merge(ctx, id, 99))

	all, err := r.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Existing", all[0].Name)
}

func TestOpenExisting_MissingSQLiteFileCreatesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ref")
	_, err := OpenExisting(context.Background(), DriverSQLite, filepath.Join(dir, "airlines.db"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "不应创建目录")
}

func TestOpenExisting_ReadsExistingFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "airlines.db")
	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = s.Insert(ctx, domain.Candidate{Name: "Existing"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ro, err := OpenExisting(ctx, DriverSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })
	all, err := ro.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
