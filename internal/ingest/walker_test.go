package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/fatsecret"
)

type stubFetcher struct {
	results map[string]fatsecret.Result
	calls   []domain.FetchUnit
	err     error
}

func (s *stubFetcher) Fetch(ctx context.Context, cred domain.Credential, unit domain.FetchUnit, method, payloadKey string) (fatsecret.Result, error) {
	s.calls = append(s.calls, unit)
	if s.err != nil {
		return fatsecret.Result{Unit: unit}, s.err
	}
	key := fmt.Sprintf("%d/%s", unit.UserID, unit.Label())
	res, ok := s.results[key]
	if !ok {
		return fatsecret.Result{Unit: unit, Outcome: fatsecret.OutcomeEmpty, Attempts: 1}, nil
	}
	res.Unit = unit
	return res, nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

type recordingSleeper struct {
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return ctx.Err()
}

func cred(id int64) domain.Credential {
	return domain.Credential{UserID: id, ConsumerKey: "ck", ConsumerSecret: "cs", AccessToken: "at", AccessTokenSecret: "ats"}
}

func succeeded(raw string) fatsecret.Result {
	return fatsecret.Result{Outcome: fatsecret.OutcomeSucceeded, Payload: json.RawMessage(raw), Attempts: 1}
}

func newTestWalker(t *testing.T, f UnitFetcher, sleeper *recordingSleeper) *Walker {
	return NewWalker(f,
		WithWalkerLogger(log.New(testWriter{t}, "", 0)),
		WithWalkerSleep(sleeper.Sleep),
		WithUserDelay(2*time.Second),
	)
}

func TestWalkMonthsAcrossYearBoundary(t *testing.T) {
	spec, err := Lookup(JobWeight)
	require.NoError(t, err)

	fetcher := &stubFetcher{results: map[string]fatsecret.Result{
		"1/2024-12": succeeded(`{"day":{"date_int":"20088","weight_kg":"82.0"}}`),
		"1/2025-02": succeeded(`{"day":[{"date_int":"20120","weight_kg":"81.0"},{"date_int":"20121","weight_kg":"80.8"}]}`),
	}}
	sleeper := &recordingSleeper{}

	start := time.Date(2024, time.November, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.February, 3, 0, 0, 0, 0, time.UTC)
	batch, report, err := newTestWalker(t, fetcher, sleeper).Walk(context.Background(), spec, []domain.Credential{cred(1)}, start, end)
	require.NoError(t, err)

	require.Len(t, fetcher.calls, 4)
	labels := make([]string, 0, len(fetcher.calls))
	for _, u := range fetcher.calls {
		labels = append(labels, u.Label())
	}
	require.Equal(t, []string{"2024-11", "2024-12", "2025-01", "2025-02"}, labels)
	require.Equal(t, time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC), fetcher.calls[0].Start)

	require.Len(t, batch, 3)
	require.Equal(t, 4, report.Units)
	require.Equal(t, 2, report.Outcomes[fatsecret.OutcomeSucceeded])
	require.Equal(t, 2, report.Outcomes[fatsecret.OutcomeEmpty])
	require.Empty(t, sleeper.slept, "single user walks never pause between users")
}

func TestWalkClipsRecordsOutsideRange(t *testing.T) {
	spec, err := Lookup(JobWeightDaily)
	require.NoError(t, err)

	fetcher := &stubFetcher{results: map[string]fatsecret.Result{
		"1/2025-05": succeeded(`{"day":[{"date_int":"20228","weight_kg":"81.4"},{"date_int":"20229","weight_kg":"81.1"}]}`),
	}}
	batch, report, err := newTestWalker(t, fetcher, &recordingSleeper{}).Walk(context.Background(), spec, []domain.Credential{cred(1)}, may21, may21)
	require.NoError(t, err)

	require.Len(t, batch, 1)
	require.Equal(t, may21, batch[0].Date)
	require.Equal(t, 1, report.Clipped)
	require.Equal(t, 1, report.Records)
}

func TestWalkReportsSkippedAndFailedUnitsAndContinues(t *testing.T) {
	spec, err := Lookup(JobFood)
	require.NoError(t, err)

	fetcher := &stubFetcher{results: map[string]fatsecret.Result{
		"1/2025-05-20": {Outcome: fatsecret.OutcomeSkipped, Attempts: 4, Backoffs: []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second}, Err: domain.ErrUnitSkipped},
		"1/2025-05-21": {Outcome: fatsecret.OutcomeFailed, Attempts: 1, Err: &domain.APIError{Code: 8, Message: "Invalid signature"}},
		"1/2025-05-22": succeeded(`{"food_entry":[{"food_entry_id":"1"},{"food_entry_id":"x"}]}`),
	}}
	batch, report, err := newTestWalker(t, fetcher, &recordingSleeper{}).Walk(context.Background(), spec, []domain.Credential{cred(1)}, may21.AddDate(0, 0, -1), may21.AddDate(0, 0, 1))
	require.NoError(t, err)

	require.Len(t, batch, 1)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, "2025-05-20", report.Skipped[0].Unit)
	require.Equal(t, 4, report.Skipped[0].Attempts)
	require.Len(t, report.Failed, 1)
	require.Contains(t, report.Failed[0].Reason, "Invalid signature")
	require.Equal(t, 3, report.Backoffs)
	require.Equal(t, 1, report.Malformed)
}

func TestWalkContinuesWithNextUserAfterSkippedAndFailedUnits(t *testing.T) {
	spec, err := Lookup(JobFood)
	require.NoError(t, err)

	may20 := may21.AddDate(0, 0, -1)
	fetcher := &stubFetcher{results: map[string]fatsecret.Result{
		"1/2025-05-20": {Outcome: fatsecret.OutcomeSkipped, Attempts: 4, Err: domain.ErrUnitSkipped},
		"1/2025-05-21": {Outcome: fatsecret.OutcomeFailed, Attempts: 1, Err: &domain.APIError{Code: 8, Message: "Invalid signature"}},
		"2/2025-05-20": succeeded(`{"food_entry":{"food_entry_id":"201"}}`),
		"2/2025-05-21": succeeded(`{"food_entry":[{"food_entry_id":"202"},{"food_entry_id":"203"}]}`),
	}}
	sleeper := &recordingSleeper{}

	batch, report, err := newTestWalker(t, fetcher, sleeper).Walk(context.Background(), spec, []domain.Credential{cred(1), cred(2)}, may20, may21)
	require.NoError(t, err)

	require.Len(t, fetcher.calls, 4)
	var user2Calls []string
	for _, u := range fetcher.calls {
		if u.UserID == 2 {
			user2Calls = append(user2Calls, u.Label())
		}
	}
	require.Equal(t, []string{"2025-05-20", "2025-05-21"}, user2Calls)

	require.Len(t, batch, 3)
	for _, rec := range batch {
		require.Equal(t, int64(2), rec.UserID)
	}

	require.Len(t, report.Skipped, 1)
	require.Equal(t, int64(1), report.Skipped[0].UserID)
	require.Len(t, report.Failed, 1)
	require.Equal(t, int64(1), report.Failed[0].UserID)
	require.Equal(t, 2, report.Users)
	require.Equal(t, []time.Duration{2 * time.Second}, sleeper.slept)
}

func TestWalkPausesBetweenUsersInOrder(t *testing.T) {
	spec, err := Lookup(JobExercise)
	require.NoError(t, err)

	fetcher := &stubFetcher{}
	sleeper := &recordingSleeper{}
	invalid := domain.Credential{UserID: 9}

	_, report, err := newTestWalker(t, fetcher, sleeper).Walk(context.Background(), spec, []domain.Credential{cred(1), invalid, cred(2)}, may21, may21)
	require.NoError(t, err)

	require.Len(t, fetcher.calls, 2)
	require.Equal(t, int64(1), fetcher.calls[0].UserID)
	require.Equal(t, int64(2), fetcher.calls[1].UserID)
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.slept)
	require.Equal(t, 2, report.Users)
	require.Equal(t, 1, report.InvalidCredentials)
}

func TestWalkStopsOnCancellation(t *testing.T) {
	spec, err := Lookup(JobFood)
	require.NoError(t, err)

	fetcher := &stubFetcher{err: context.Canceled}
	_, _, err = newTestWalker(t, fetcher, &recordingSleeper{}).Walk(context.Background(), spec, []domain.Credential{cred(1)}, may21, may21.AddDate(0, 0, 5))
	require.True(t, errors.Is(err, context.Canceled))
	require.Len(t, fetcher.calls, 1)
}

func TestWalkEmptyRange(t *testing.T) {
	spec, err := Lookup(JobFood)
	require.NoError(t, err)

	fetcher := &stubFetcher{}
	batch, report, err := newTestWalker(t, fetcher, &recordingSleeper{}).Walk(context.Background(), spec, []domain.Credential{cred(1)}, may21, may21.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Empty(t, batch)
	require.Zero(t, report.Units)
}
