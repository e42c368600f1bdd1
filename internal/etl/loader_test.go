package etl_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpulse/ingest-service/internal/db"
	"jobpulse/ingest-service/internal/etl"
	"jobpulse/ingest-service/internal/model"
)

// memStore is an in-memory db.Store with transactional copy-on-write
// semantics: WithTx and Savepoint run fn against a deep copy and merge it
// back only on success.
type memStore struct {
	postings    map[string]model.JobPosting
	snapshots   map[string]model.JobSnapshot
	salaries    map[string]model.Salary
	techs       map[string]model.Technology
	links       map[string]struct{}
	nextTechID  int64
	metricRuns  []time.Time
	failSnap    map[string]bool // job ids whose snapshot upsert fails
	failMetrics bool
}

func newMemStore() *memStore {
	return &memStore{
		postings:   map[string]model.JobPosting{},
		snapshots:  map[string]model.JobSnapshot{},
		salaries:   map[string]model.Salary{},
		techs:      map[string]model.Technology{},
		links:      map[string]struct{}{},
		nextTechID: 1,
		failSnap:   map[string]bool{},
	}
}

func (m *memStore) clone() *memStore {
	c := newMemStore()
	for k, v := range m.postings {
		c.postings[k] = v
	}
	for k, v := range m.snapshots {
		c.snapshots[k] = v
	}
	for k, v := range m.salaries {
		c.salaries[k] = v
	}
	for k, v := range m.techs {
		c.techs[k] = v
	}
	for k := range m.links {
		c.links[k] = struct{}{}
	}
	c.nextTechID = m.nextTechID
	c.metricRuns = append([]time.Time(nil), m.metricRuns...)
	c.failSnap = m.failSnap
	c.failMetrics = m.failMetrics
	return c
}

func (m *memStore) adopt(c *memStore) {
	m.postings = c.postings
	m.snapshots = c.snapshots
	m.salaries = c.salaries
	m.techs = c.techs
	m.links = c.links
	m.nextTechID = c.nextTechID
	m.metricRuns = c.metricRuns
}

func dateKey(jobID string, date time.Time) string {
	return jobID + "@" + date.Format("2006-01-02")
}

func (m *memStore) GetJobPosting(_ context.Context, jobID string) (*model.JobPosting, error) {
	p, ok := m.postings[jobID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) InsertJobPosting(_ context.Context, p model.JobPosting) error {
	if _, dup := m.postings[p.JobID]; dup {
		return fmt.Errorf("duplicate posting %s", p.JobID)
	}
	m.postings[p.JobID] = p
	return nil
}

func (m *memStore) TouchJobPosting(_ context.Context, jobID string, lastSeen time.Time) error {
	p, ok := m.postings[jobID]
	if !ok {
		return fmt.Errorf("no posting %s", jobID)
	}
	p.LastSeen = lastSeen
	p.Active = true
	m.postings[jobID] = p
	return nil
}

func (m *memStore) UpsertJobSnapshot(_ context.Context, s model.JobSnapshot) error {
	if m.failSnap[s.JobID] {
		return fmt.Errorf("forced snapshot failure for %s", s.JobID)
	}
	m.snapshots[dateKey(s.JobID, s.Date)] = s
	return nil
}

func (m *memStore) UpsertSalary(_ context.Context, s model.Salary) error {
	m.salaries[dateKey(s.JobID, s.Date)] = s
	return nil
}

func (m *memStore) GetTechnology(_ context.Context, name string) (*model.Technology, error) {
	t, ok := m.techs[name]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memStore) InsertTechnology(_ context.Context, name, category string) (int64, error) {
	id := m.nextTechID
	m.nextTechID++
	m.techs[name] = model.Technology{ID: id, Name: name, Category: category}
	return id, nil
}

func (m *memStore) LinkJobTechnology(_ context.Context, link model.JobTechnologyLink) error {
	key := fmt.Sprintf("%s/%d/%s", link.JobID, link.TechnologyID, link.Date.Format("2006-01-02"))
	m.links[key] = struct{}{}
	return nil
}

func (m *memStore) ExpireJobsNotSeen(_ context.Context, seen []string) (int64, error) {
	seenSet := map[string]struct{}{}
	for _, id := range seen {
		seenSet[id] = struct{}{}
	}
	var n int64
	for id, p := range m.postings {
		if _, ok := seenSet[id]; ok || !p.Active {
			continue
		}
		p.Active = false
		m.postings[id] = p
		n++
	}
	return n, nil
}

func (m *memStore) RecomputeDailyMetrics(_ context.Context, date time.Time) error {
	if m.failMetrics {
		return fmt.Errorf("forced metrics failure")
	}
	m.metricRuns = append(m.metricRuns, date)
	return nil
}

func (m *memStore) Savepoint(_ context.Context, fn func(db.Store) error) error {
	c := m.clone()
	if err := fn(c); err != nil {
		return err
	}
	m.adopt(c)
	return nil
}

// memRunner satisfies etl.TxRunner with the same commit-on-success rule.
type memRunner struct {
	store *memStore
}

func (r *memRunner) WithTx(_ context.Context, fn func(db.Store) error) error {
	c := r.store.clone()
	if err := fn(c); err != nil {
		return err
	}
	r.store.adopt(c)
	return nil
}

func job(id string, techs ...string) model.NormalizedJob {
	n := model.NormalizedJob{
		Posting: model.JobPosting{
			JobID:       id,
			Title:       "Developer " + id,
			CompanyName: "Acme",
			URL:         "https://nofluffjobs.com/pl/job/" + id,
		},
		Snapshot: model.JobSnapshot{Description: "desc"},
		Salary:   &model.Salary{Currency: "PLN", Min: 10000, Max: 14000, Avg: 12000, Period: "monthly"},
	}
	for _, t := range techs {
		n.Technologies = append(n.Technologies, model.Technology{Name: t, Category: "language"})
	}
	return n
}

var runDate = time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

// ── Load ───────────────────────────────────────────────────────────────────

func TestLoad_NewJobs(t *testing.T) {
	store := newMemStore()
	loader := etl.NewLoader(&memRunner{store: store}, zerolog.Nop())

	stats, err := loader.Load(context.Background(), []model.NormalizedJob{
		job("a", "Go", "PostgreSQL"),
		job("b", "Go"),
	}, runDate)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.New)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 2, stats.TechnologiesNew, "Go is shared, PostgreSQL is new once")
	assert.Equal(t, 0, stats.Errors)

	a := store.postings["a"]
	assert.True(t, a.Active)
	assert.Equal(t, runDate, a.FirstSeen)
	assert.Equal(t, runDate, a.LastSeen)

	assert.Contains(t, store.snapshots, dateKey("a", runDate))
	assert.Contains(t, store.salaries, dateKey("b", runDate))
	assert.Len(t, store.links, 3)
	require.Len(t, store.metricRuns, 1)
	assert.Equal(t, runDate, store.metricRuns[0])
}

func TestLoad_Idempotent(t *testing.T) {
	store := newMemStore()
	loader := etl.NewLoader(&memRunner{store: store}, zerolog.Nop())
	batch := []model.NormalizedJob{job("a", "Go"), job("b", "Go")}

	_, err := loader.Load(context.Background(), batch, runDate)
	require.NoError(t, err)

	stats, err := loader.Load(context.Background(), batch, runDate)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.New)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 0, stats.TechnologiesNew)
	assert.Equal(t, 0, stats.Expired)
	assert.Len(t, store.postings, 2)
	assert.Len(t, store.techs, 1)
	assert.Len(t, store.links, 2)
}

func TestLoad_ExpiresMissingJobs(t *testing.T) {
	store := newMemStore()
	loader := etl.NewLoader(&memRunner{store: store}, zerolog.Nop())

	_, err := loader.Load(context.Background(), []model.NormalizedJob{job("a"), job("b")}, runDate)
	require.NoError(t, err)

	nextDay := runDate.AddDate(0, 0, 1)
	stats, err := loader.Load(context.Background(), []model.NormalizedJob{job("a")}, nextDay)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Expired)
	assert.True(t, store.postings["a"].Active)
	assert.False(t, store.postings["b"].Active)
	assert.Equal(t, nextDay, store.postings["a"].LastSeen)
	assert.Equal(t, runDate, store.postings["b"].LastSeen, "expiry must not touch last_seen")
}

func TestLoad_EmptyBatchSkipsExpiry(t *testing.T) {
	store := newMemStore()
	loader := etl.NewLoader(&memRunner{store: store}, zerolog.Nop())

	_, err := loader.Load(context.Background(), []model.NormalizedJob{job("a")}, runDate)
	require.NoError(t, err)

	stats, err := loader.Load(context.Background(), nil, runDate.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Expired, "an empty batch must not wipe the active set")
	assert.True(t, store.postings["a"].Active)
}

func TestLoad_PerItemFailureDoesNotAbortBatch(t *testing.T) {
	store := newMemStore()
	store.failSnap["b"] = true
	loader := etl.NewLoader(&memRunner{store: store}, zerolog.Nop())

	stats, err := loader.Load(context.Background(), []model.NormalizedJob{
		job("a", "Go"),
		job("b", "Rust"),
		job("c"),
	}, runDate)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.New)
	assert.Equal(t, 1, stats.Errors)
	assert.NotContains(t, store.postings, "b", "the failed item must roll back entirely")
	assert.NotContains(t, store.techs, "Rust")
	assert.Contains(t, store.postings, "a")
	assert.Contains(t, store.postings, "c")
}

func TestLoad_FatalErrorRollsBackEverything(t *testing.T) {
	store := newMemStore()
	store.failMetrics = true
	loader := etl.NewLoader(&memRunner{store: store}, zerolog.Nop())

	_, err := loader.Load(context.Background(), []model.NormalizedJob{job("a")}, runDate)
	require.Error(t, err)

	assert.Empty(t, store.postings, "a failed transaction must leave the store unchanged")
	assert.Empty(t, store.snapshots)
}
