package ingest

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/fatsecret"
	"example.com/personaldata/internal/persistence/postgres"
)

type stubBatchWriter struct {
	calls   int
	table   domain.TableSpec
	batch   domain.Batch
	options int
	rows    int64
	err     error
}

func (s *stubBatchWriter) Write(_ context.Context, table domain.TableSpec, batch domain.Batch, opts ...postgres.WriteOption) (int64, error) {
	s.calls++
	s.table = table
	s.batch = batch
	s.options = len(opts)
	if s.err != nil {
		return 0, s.err
	}
	if s.rows == 0 {
		return int64(len(batch)), nil
	}
	return s.rows, nil
}

type stubCredentials struct {
	creds  []domain.Credential
	err    error
	filter []int64
}

func (s *stubCredentials) Credentials(_ context.Context, userIDs []int64) ([]domain.Credential, error) {
	s.filter = userIDs
	return s.creds, s.err
}

func newTestService(t *testing.T, f UnitFetcher, creds domain.CredentialSource, w BatchWriter, opts ...ServiceOption) *Service {
	walker := NewWalker(f, WithWalkerLogger(log.New(testWriter{t}, "", 0)), WithWalkerSleep((&recordingSleeper{}).Sleep))
	opts = append([]ServiceOption{WithServiceLogger(log.New(testWriter{t}, "", 0))}, opts...)
	return NewService(walker, creds, w, opts...)
}

func TestServiceRunWritesBatchWithEvent(t *testing.T) {
	fetcher := &stubFetcher{results: map[string]fatsecret.Result{
		"1/2025-05-21": succeeded(`{"exercise_entry":{"exercise_id":"3","exercise_name":"Walk","minutes":"40","calories":"150"}}`),
	}}
	writer := &stubBatchWriter{}
	creds := &stubCredentials{creds: []domain.Credential{cred(1)}}
	svc := newTestService(t, fetcher, creds, writer, WithEventsTopic("ingest_events"))

	before := testutil.ToFloat64(rowsWrittenCounter.WithLabelValues(JobExercise))

	summary, err := svc.Run(context.Background(), RunRequest{Job: JobExercise, Start: may21, End: may21, UserIDs: []int64{1}})
	require.NoError(t, err)

	require.NotEmpty(t, summary.RunID)
	require.EqualValues(t, 1, summary.RowsAffected)
	require.Equal(t, 1, writer.calls)
	require.Equal(t, domain.ExerciseEntriesTable.Name(), writer.table.Name())
	require.Len(t, writer.batch, 1)
	require.Equal(t, 1, writer.options)
	require.Equal(t, []int64{1}, creds.filter)
	require.Equal(t, before+1, testutil.ToFloat64(rowsWrittenCounter.WithLabelValues(JobExercise)))
}

func TestServiceRunSkipsWriteForEmptyBatch(t *testing.T) {
	writer := &stubBatchWriter{}
	svc := newTestService(t, &stubFetcher{}, &stubCredentials{creds: []domain.Credential{cred(1)}}, writer)

	summary, err := svc.Run(context.Background(), RunRequest{Job: JobFood, Start: may21, End: may21})
	require.NoError(t, err)
	require.Zero(t, writer.calls)
	require.Equal(t, 1, summary.Report.Outcomes[fatsecret.OutcomeEmpty])
}

func TestServiceRunPropagatesStorageError(t *testing.T) {
	fetcher := &stubFetcher{results: map[string]fatsecret.Result{
		"1/2025-05": succeeded(`{"day":{"date_int":"20229","weight_kg":"81.1"}}`),
	}}
	storageErr := &domain.StorageError{Table: "personal_data.weights", Err: errors.New("connection reset"), Transient: true}
	writer := &stubBatchWriter{err: storageErr}
	svc := newTestService(t, fetcher, &stubCredentials{creds: []domain.Credential{cred(1)}}, writer)

	_, err := svc.Run(context.Background(), RunRequest{Job: JobWeight, Start: may21, End: may21})
	var got *domain.StorageError
	require.ErrorAs(t, err, &got)
	require.True(t, got.Retryable())
}

func TestServiceRunCancelledBeforeWrite(t *testing.T) {
	writer := &stubBatchWriter{}
	svc := newTestService(t, &stubFetcher{err: context.Canceled}, &stubCredentials{creds: []domain.Credential{cred(1)}}, writer)

	_, err := svc.Run(context.Background(), RunRequest{Job: JobFood, Start: may21, End: may21.AddDate(0, 0, 3)})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, writer.calls)
}

func TestServiceRunValidation(t *testing.T) {
	svc := newTestService(t, &stubFetcher{}, &stubCredentials{}, &stubBatchWriter{})

	_, err := svc.Run(context.Background(), RunRequest{Job: "nope", Start: may21, End: may21})
	require.Error(t, err)

	_, err = svc.Run(context.Background(), RunRequest{Job: JobFood, Start: may21, End: may21.Add(-48 * time.Hour)})
	require.ErrorContains(t, err, "before start")

	_, err = svc.Run(context.Background(), RunRequest{Job: JobFood, Start: may21, End: may21})
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestParseUserIDs(t *testing.T) {
	ids, err := ParseUserIDs(" 1, 7,,12 ")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 7, 12}, ids)

	ids, err = ParseUserIDs("")
	require.NoError(t, err)
	require.Nil(t, ids)

	_, err = ParseUserIDs("1,x")
	require.ErrorContains(t, err, `"x"`)
	_, err = ParseUserIDs("-3")
	require.Error(t, err)
}
