// ABOUTME: Shared instruction queue with at-most-one-claim semantics.
// ABOUTME: Agents race ClaimNext; a single mutex serializes every transition.

package queue

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/2389/coven-swarm/internal/notify"
)

// ErrInstructionNotFound indicates no instruction has the given id.
var ErrInstructionNotFound = errors.New("instruction not found")

// ErrNotPending indicates the instruction is executing and cannot be edited or removed.
var ErrNotPending = errors.New("instruction is not pending")

// ErrEmptyCommand indicates a blank command was supplied.
var ErrEmptyCommand = errors.New("command is empty")

// ErrNotClaimant indicates a caller tried to finish an instruction it does not hold.
var ErrNotClaimant = errors.New("caller does not hold the claim")

const (
	DefaultMaxPending      = 50
	DefaultHistorySize     = 25
	DefaultRecentCompleted = 8

	maxResultLen = 500
)

// Status is the lifecycle state of an instruction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
)

// Instruction is one unit of shared work.
type Instruction struct {
	ID          int64      `json:"id"`
	Command     string     `json:"command"`
	Status      Status     `json:"status"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	AddedAt     time.Time  `json:"added_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Attempts    int        `json:"attempts"`
}

// Snapshot is a point-in-time view of the queue.
type Snapshot struct {
	Pending         []Instruction `json:"pending"`
	Executing       []Instruction `json:"executing"`
	TotalPending    int           `json:"total_pending"`
	TotalExecuting  int           `json:"total_executing"`
	TotalCompleted  int           `json:"total_completed"`
	RecentCompleted []Instruction `json:"recent_completed"`
}

// Options bounds the queue's memory use.
type Options struct {
	MaxPending      int
	HistorySize     int
	RecentCompleted int
}

func (o Options) withDefaults() Options {
	if o.MaxPending <= 0 {
		o.MaxPending = DefaultMaxPending
	}
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if o.RecentCompleted <= 0 {
		o.RecentCompleted = DefaultRecentCompleted
	}
	return o
}

// Queue holds pending and executing instructions in insertion order plus a
// bounded history of completed ones.
type Queue struct {
	mu        sync.Mutex
	items     []*Instruction
	completed []Instruction
	total     int
	nextID    int64
	opts      Options
	onChange  []func(Snapshot)
	seq       notify.Sequencer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an empty queue.
func New(opts Options, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		opts:   opts.withDefaults(),
		logger: logger.With("component", "queue"),
		now:    time.Now,
	}
}

// OnChange registers fn to receive a snapshot after every mutation. fn runs
// after the queue lock is released, and snapshots arrive in mutation order.
// fn may read the queue but must not mutate it.
func (q *Queue) OnChange(fn func(Snapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = append(q.onChange, fn)
}

// notify delivers snap to listeners. Must be called without q.mu held.
func (q *Queue) notify(snap Snapshot, listeners []func(Snapshot)) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// commit snapshots state and releases the lock, then notifies listeners in
// the order the mutations were committed. Must be called with q.mu held.
func (q *Queue) commit() {
	snap := q.snapshotLocked()
	listeners := q.onChange
	ticket := q.seq.Ticket()
	q.mu.Unlock()
	q.seq.Deliver(ticket, func() { q.notify(snap, listeners) })
}

// Add appends a pending instruction. Blank commands are rejected.
func (q *Queue) Add(command string) (int64, bool) {
	command = strings.TrimSpace(command)
	if command == "" {
		return 0, false
	}

	q.mu.Lock()
	id := q.appendLocked(command)
	q.trimLocked()
	q.commit()

	q.logger.Debug("instruction added", "instruction_id", id)
	return id, true
}

// AddBatch appends every non-blank command and returns how many were added.
func (q *Queue) AddBatch(commands []string) int {
	q.mu.Lock()
	added := 0
	for _, c := range commands {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		q.appendLocked(c)
		added++
	}
	if added == 0 {
		q.mu.Unlock()
		return 0
	}
	q.trimLocked()
	q.commit()

	q.logger.Debug("instructions added", "count", added)
	return added
}

func (q *Queue) appendLocked(command string) int64 {
	q.nextID++
	q.items = append(q.items, &Instruction{
		ID:      q.nextID,
		Command: command,
		Status:  StatusPending,
		AddedAt: q.now(),
	})
	return q.nextID
}

// trimLocked drops the oldest pending items beyond MaxPending.
func (q *Queue) trimLocked() {
	excess := q.countLocked(StatusPending) - q.opts.MaxPending
	if excess <= 0 {
		return
	}
	q.items = slices.DeleteFunc(q.items, func(in *Instruction) bool {
		if excess > 0 && in.Status == StatusPending {
			excess--
			return true
		}
		return false
	})
	q.logger.Warn("pending queue full, dropped oldest instructions", "max_pending", q.opts.MaxPending)
}

func (q *Queue) countLocked(s Status) int {
	n := 0
	for _, in := range q.items {
		if in.Status == s {
			n++
		}
	}
	return n
}

func (q *Queue) findLocked(id int64) (int, *Instruction) {
	for i, in := range q.items {
		if in.ID == id {
			return i, in
		}
	}
	return -1, nil
}

// ClaimNext atomically hands the oldest pending instruction to agentID.
// It never blocks; ok is false when nothing is pending.
func (q *Queue) ClaimNext(agentID string) (Instruction, bool) {
	q.mu.Lock()
	for _, in := range q.items {
		if in.Status != StatusPending {
			continue
		}
		now := q.now()
		in.Status = StatusExecuting
		in.ClaimedBy = agentID
		in.ClaimedAt = &now
		in.Attempts++
		claimed := in.clone()
		q.commit()

		q.logger.Debug("instruction claimed", "instruction_id", claimed.ID, "agent_id", agentID)
		return claimed, true
	}
	q.mu.Unlock()
	return Instruction{}, false
}

// Complete finishes an executing instruction. Only the current claimant may
// complete it; stale or duplicate completions return false.
func (q *Queue) Complete(id int64, agentID, result string) bool {
	return q.Finish(id, agentID, result) == nil
}

// Finish is Complete with a descriptive error.
func (q *Queue) Finish(id int64, agentID, result string) error {
	q.mu.Lock()
	i, in := q.findLocked(id)
	if in == nil {
		q.mu.Unlock()
		return ErrInstructionNotFound
	}
	if in.Status != StatusExecuting || in.ClaimedBy != agentID {
		q.mu.Unlock()
		return ErrNotClaimant
	}

	now := q.now()
	in.Status = StatusCompleted
	in.CompletedAt = &now
	in.Result = truncate(result, maxResultLen)

	q.items = slices.Delete(q.items, i, i+1)
	q.completed = append(q.completed, in.clone())
	if over := len(q.completed) - q.opts.HistorySize; over > 0 {
		q.completed = slices.Delete(q.completed, 0, over)
	}
	q.total++
	q.commit()
	return nil
}

// Fail returns a claimed instruction to pending at its original position.
// Only the current claimant may fail it.
func (q *Queue) Fail(id int64, agentID, errMsg string) bool {
	q.mu.Lock()
	_, in := q.findLocked(id)
	if in == nil || in.Status != StatusExecuting || in.ClaimedBy != agentID {
		q.mu.Unlock()
		return false
	}
	in.reset()
	in.LastError = errMsg
	q.commit()
	return true
}

// Release returns every instruction claimed by agentID to pending and reports
// how many were released.
func (q *Queue) Release(agentID string) int {
	q.mu.Lock()
	n := 0
	for _, in := range q.items {
		if in.Status == StatusExecuting && in.ClaimedBy == agentID {
			in.reset()
			in.LastError = "claimant released"
			n++
		}
	}
	if n == 0 {
		q.mu.Unlock()
		return 0
	}
	q.commit()

	q.logger.Info("released claims", "agent_id", agentID, "count", n)
	return n
}

// ReleaseStale returns instructions claimed longer than olderThan to pending.
func (q *Queue) ReleaseStale(olderThan time.Duration) int {
	q.mu.Lock()
	cutoff := q.now().Add(-olderThan)
	n := 0
	for _, in := range q.items {
		if in.Status == StatusExecuting && in.ClaimedAt != nil && in.ClaimedAt.Before(cutoff) {
			q.logger.Warn("releasing stale claim",
				"instruction_id", in.ID,
				"agent_id", in.ClaimedBy,
				"claimed_at", *in.ClaimedAt,
			)
			in.reset()
			in.LastError = "claim timed out"
			n++
		}
	}
	if n == 0 {
		q.mu.Unlock()
		return 0
	}
	q.commit()
	return n
}

// RunSweeper releases stale claims every interval until ctx is done.
func (q *Queue) RunSweeper(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 || timeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.ReleaseStale(timeout)
		}
	}
}

// Remove deletes a pending instruction. Executing instructions are refused.
func (q *Queue) Remove(id int64) bool {
	return q.Delete(id) == nil
}

// Delete is Remove with a descriptive error.
func (q *Queue) Delete(id int64) error {
	q.mu.Lock()
	i, in := q.findLocked(id)
	if in == nil {
		q.mu.Unlock()
		return ErrInstructionNotFound
	}
	if in.Status != StatusPending {
		q.mu.Unlock()
		return ErrNotPending
	}
	q.items = slices.Delete(q.items, i, i+1)
	q.commit()
	return nil
}

// Edit replaces the command of a pending instruction.
func (q *Queue) Edit(id int64, command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return ErrEmptyCommand
	}

	q.mu.Lock()
	_, in := q.findLocked(id)
	if in == nil {
		q.mu.Unlock()
		return ErrInstructionNotFound
	}
	if in.Status != StatusPending {
		q.mu.Unlock()
		return ErrNotPending
	}
	in.Command = command
	q.commit()
	return nil
}

// Clear drops every pending instruction, leaving executing ones untouched.
func (q *Queue) Clear() int {
	q.mu.Lock()
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(in *Instruction) bool {
		return in.Status == StatusPending
	})
	dropped := before - len(q.items)
	q.commit()
	return dropped
}

// List returns a snapshot of the queue.
func (q *Queue) List() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() Snapshot {
	snap := Snapshot{
		Pending:   []Instruction{},
		Executing: []Instruction{},
	}
	for _, in := range q.items {
		switch in.Status {
		case StatusPending:
			snap.Pending = append(snap.Pending, in.clone())
		case StatusExecuting:
			snap.Executing = append(snap.Executing, in.clone())
		}
	}
	snap.TotalPending = len(snap.Pending)
	snap.TotalExecuting = len(snap.Executing)
	snap.TotalCompleted = q.total

	start := max(len(q.completed)-q.opts.RecentCompleted, 0)
	snap.RecentCompleted = slices.Clone(q.completed[start:])
	if snap.RecentCompleted == nil {
		snap.RecentCompleted = []Instruction{}
	}
	return snap
}

func (in *Instruction) clone() Instruction {
	cp := *in
	if in.ClaimedAt != nil {
		t := *in.ClaimedAt
		cp.ClaimedAt = &t
	}
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

func (in *Instruction) reset() {
	in.Status = StatusPending
	in.ClaimedBy = ""
	in.ClaimedAt = nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
