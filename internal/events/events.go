package events

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/angariumd/oarwatch/internal/db"
	"github.com/angariumd/oarwatch/internal/refresh"
)

// Entry is one journalled refresh cycle. No job data is kept.
type Entry struct {
	ID          string
	At          time.Time
	Trigger     string
	Outcome     string
	Jobs        int
	Resources   int
	WindowStart time.Time
	WindowEnd   time.Time
	Duration    time.Duration
	Error       string
}

func entryFor(res refresh.Result) Entry {
	e := Entry{
		ID:          res.CycleID.String(),
		At:          res.StartedAt,
		Trigger:     res.Trigger.String(),
		Outcome:     res.Outcome.String(),
		Jobs:        res.Jobs,
		Resources:   res.Resources,
		WindowStart: res.Start,
		WindowEnd:   res.End,
		Duration:    res.Duration,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

// Journal records refresh outcomes in the background and keeps only the
// newest ones. Record never blocks the refresh loop.
type Journal struct {
	db         *db.DB
	in         chan Entry
	done       chan struct{}
	wg         sync.WaitGroup
	batchSize  int
	keep       int
	flushEvery time.Duration
	closeOnce  sync.Once
}

func New(database *db.DB, keep int) *Journal {
	j := &Journal{
		db:         database,
		in:         make(chan Entry, 256),
		done:       make(chan struct{}),
		batchSize:  32,
		keep:       keep,
		flushEvery: time.Second,
	}

	j.wg.Add(1)
	go j.loop()
	return j
}

// Close flushes pending entries and stops the writer. It does not close
// the database.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
	})
}

func (j *Journal) Record(res refresh.Result) {
	e := entryFor(res)
	select {
	case j.in <- e:
	default:
		log.Warn().Str("cycle", e.ID).Msg("journal buffer full, dropping entry")
	}
}

func (j *Journal) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.flushEvery)
	defer ticker.Stop()

	var batch []Entry

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.writeBatch(batch); err != nil {
			log.Error().Err(err).Int("entries", len(batch)).Msg("journal write failed")
		}
		batch = make([]Entry, 0, j.batchSize)
	}

	for {
		select {
		case e := <-j.in:
			batch = append(batch, e)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.done:
			for len(j.in) > 0 {
				batch = append(batch, <-j.in)
			}
			flush()
			return
		}
	}
}

func (j *Journal) writeBatch(batch []Entry) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO refresh_events
		(id, at, "trigger", outcome, jobs, resources, window_start, window_end, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		var errText *string
		if e.Error != "" {
			errText = &e.Error
		}
		_, err := stmt.Exec(e.ID, db.FormatTime(e.At), e.Trigger, e.Outcome, e.Jobs, e.Resources,
			db.FormatTime(e.WindowStart), db.FormatTime(e.WindowEnd), e.Duration.Milliseconds(), errText)
		if err != nil {
			return fmt.Errorf("inserting %s: %w", e.ID, err)
		}
	}

	_, err = tx.Exec(`DELETE FROM refresh_events WHERE rowid NOT IN (
		SELECT rowid FROM refresh_events ORDER BY at DESC, rowid DESC LIMIT ?)`, j.keep)
	if err != nil {
		return fmt.Errorf("pruning journal: %w", err)
	}

	return tx.Commit()
}

const selectEntries = `SELECT id, at, "trigger", outcome, jobs, resources, window_start, window_end, duration_ms, error
	FROM refresh_events`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                Entry
		at, wStart, wEnd db.Time
		durationMs       int64
		errText          sql.NullString
	)
	if err := s.Scan(&e.ID, &at, &e.Trigger, &e.Outcome, &e.Jobs, &e.Resources, &wStart, &wEnd, &durationMs, &errText); err != nil {
		return Entry{}, err
	}
	e.At, e.WindowStart, e.WindowEnd = at.Time, wStart.Time, wEnd.Time
	e.Duration = time.Duration(durationMs) * time.Millisecond
	e.Error = errText.String
	return e, nil
}

// Recent returns up to n entries, newest first.
func Recent(database *db.DB, n int) ([]Entry, error) {
	rows, err := database.Query(selectEntries+` ORDER BY at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning journal: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastSuccess returns the newest successful cycle, if any is journalled.
func LastSuccess(database *db.DB) (Entry, bool, error) {
	row := database.QueryRow(selectEntries+` WHERE outcome = ? ORDER BY at DESC, rowid DESC LIMIT 1`,
		refresh.OutcomeSuccess.String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("querying journal: %w", err)
	}
	return e, true, nil
}

func (j *Journal) Recent(n int) ([]Entry, error) {
	return Recent(j.db, n)
}

func (j *Journal) LastSuccess() (Entry, bool, error) {
	return LastSuccess(j.db)
}
