// Package distributor runs the control loop that keeps a fixed pool of slots
// fed from the ledger.
//
// A cycle never writes a queue file a live worker could be reading: it only
// drains slots whose job is gone and only fills slots whose queues are empty.
// Within a cycle the order is read reclaimable queues, write hungry queues,
// persist the checkpoint, delete the reclaimed queues. A crash between any two
// steps can duplicate items but never lose one.
package distributor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/filestore"
	"github.com/kingrea/slotfeed/internal/ledger"
	"github.com/kingrea/slotfeed/internal/logbook"
	"github.com/kingrea/slotfeed/internal/metrics"
	"github.com/kingrea/slotfeed/internal/scheduler"
	"github.com/kingrea/slotfeed/internal/slotqueue"
	"github.com/kingrea/slotfeed/internal/slots"
)

// Termination reasons.
const (
	ReasonRequested = "terminate requested"
	ReasonDrained   = "no work left"
)

// Options tune the loop.
type Options struct {
	MaxItemsPerSlot int
	QueryEvery      int
	ReportEvery     int
	PollInterval    time.Duration
	States          []string
	MetricsTextfile string
}

// OptionsFrom derives loop options from a run config.
func OptionsFrom(rc config.RunConfig) Options {
	return Options{
		MaxItemsPerSlot: rc.Slots.MaxItemsPerSlot,
		QueryEvery:      rc.Loop.QueryEvery,
		ReportEvery:     rc.Loop.ReportEvery,
		PollInterval:    rc.Loop.PollInterval,
		States:          rc.Scheduler.States,
		MetricsTextfile: rc.Metrics.Textfile,
	}
}

// Deps are the collaborators a Distributor drives. Log, Metrics and Journal
// are optional.
type Deps struct {
	Ledger    *ledger.Ledger
	Queues    *slotqueue.Store
	Slots     *slots.Manager
	Scheduler scheduler.Adapter
	Paths     config.Paths
	Log       logrus.FieldLogger
	Metrics   *metrics.Metrics
	Journal   *logbook.Logbook
}

// Distributor owns the run state for one workload.
type Distributor struct {
	Deps
	opts    Options
	wakeups int
	adopted bool
}

// Report describes what one cycle did.
type Report struct {
	Wakeup      int
	Queried     bool
	QueryFailed bool
	Active      []int
	Available   []int
	Hungry      []int
	// Skipped lists slots whose queues could not be read this cycle.
	Skipped      []int
	Reclaimed    int
	Assigned     int
	Persisted    bool
	Submitted    []int
	SubmitFailed []int
	Remaining    int
	Terminate    bool
	Reason       string
}

// New wires a distributor. Options left at zero fall back to the defaults.
func New(deps Deps, opts Options) *Distributor {
	def := OptionsFrom(config.Default())
	if opts.MaxItemsPerSlot < 1 {
		opts.MaxItemsPerSlot = def.MaxItemsPerSlot
	}
	if opts.QueryEvery < 1 {
		opts.QueryEvery = def.QueryEvery
	}
	if opts.ReportEvery < 1 {
		opts.ReportEvery = opts.QueryEvery
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if len(opts.States) == 0 {
		opts.States = def.States
	}
	if deps.Log == nil {
		quiet := logrus.New()
		quiet.SetLevel(logrus.PanicLevel)
		deps.Log = quiet
	}
	return &Distributor{Deps: deps, opts: opts}
}

// Run cycles until the termination condition holds or ctx is cancelled. The
// cancellation is only observed between cycles.
func (d *Distributor) Run(ctx context.Context) error {
	d.Log.WithFields(logrus.Fields{
		"items":      d.Ledger.Len(),
		"source":     d.Ledger.Source(),
		"slots":      d.Slots.Max(),
		"bound":      d.Slots.Bound(),
		"checkpoint": d.Ledger.Checkpoint(),
	}).Info("distributor starting")
	d.Journal.Event(logbook.LevelInfo, "START", logbook.Fields{"items": d.Ledger.Len(), "source": d.Ledger.Source()})

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		report, err := d.Cycle(ctx)
		if err != nil {
			d.Log.WithError(err).Error("cycle failed")
			d.Journal.Event(logbook.LevelError, "FATAL", logbook.Fields{"error": err})
			return err
		}
		if report.Wakeup%d.opts.ReportEvery == 0 {
			d.Log.WithFields(logrus.Fields{"items": report.Remaining, "wakeup": report.Wakeup}).Info("unassigned items remaining")
		}
		if report.Terminate {
			d.Log.WithField("reason", report.Reason).Info("terminating")
			d.Journal.Event(logbook.LevelInfo, "TERMINATE", logbook.Fields{"reason": report.Reason, "items": report.Remaining})
			return nil
		}
		select {
		case <-ctx.Done():
			d.Log.Info("stopping on interrupt")
			d.Journal.Event(logbook.LevelWarn, "INTERRUPTED", logbook.Fields{"items": report.Remaining})
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one pass of the loop. The returned error is fatal: the ledger or
// a queue could not be written.
func (d *Distributor) Cycle(ctx context.Context) (Report, error) {
	report := Report{Wakeup: d.wakeups}
	report.Queried = d.wakeups%d.opts.QueryEvery == 0
	d.wakeups++

	// scheduler calls must finish even when the loop is being interrupted
	schedCtx := context.WithoutCancel(ctx)

	report.Active, report.Available = d.Slots.All(), nil
	if report.Queried {
		if active, err := d.Scheduler.ListActive(schedCtx, d.opts.States); err != nil {
			report.QueryFailed = true
			d.Log.WithError(err).Warn("scheduler query failed; treating all slots as active")
			d.Journal.Event(logbook.LevelWarn, "QUERY_FAILED", logbook.Fields{"error": err})
		} else {
			d.Log.WithField("jobs", scheduler.Sorted(active)).Debug("scheduler query")
			report.Active, report.Available = d.Slots.Reconcile(active)
		}
	}

	var stranded []string
	if !d.adopted {
		files, err := d.adoptStranded(&report)
		if err != nil {
			return report, err
		}
		stranded = files
	}
	skipped := make(map[int]bool)
	reclaimable := d.collect(&report, skipped)
	if err := d.fill(&report, skipped); err != nil {
		return report, err
	}
	if report.Reclaimed > 0 || report.Assigned > 0 {
		if err := d.Ledger.Persist(); err != nil {
			return report, fmt.Errorf("distributor: %w", err)
		}
		report.Persisted = true
	}
	for _, slot := range reclaimable {
		if err := d.Queues.Remove(slot); err != nil {
			// the items are already checkpointed; a leftover file is read again
			// on the next reclaim of this slot
			d.Log.WithError(err).WithField("slot", slot).Warn("remove reclaimed queue")
		}
	}
	for _, path := range stranded {
		if err := filestore.Remove(path); err != nil {
			d.Log.WithError(err).WithField("file", path).Warn("remove stranded file")
		}
	}
	d.adopted = true
	report.Remaining = d.Ledger.Len()

	if reason := d.terminationReason(); reason != "" {
		report.Terminate, report.Reason = true, reason
		if err := filestore.Remove(d.Paths.Terminate()); err != nil {
			d.Log.WithError(err).Warn("remove terminate sentinel")
		}
		d.observe(&report)
		return report, nil
	}

	if d.Ledger.Len() > 0 {
		for _, slot := range report.Available {
			if skipped[slot] {
				continue
			}
			d.submit(schedCtx, slot, &report)
		}
	}
	d.observe(&report)
	return report, nil
}

// collect reads the queues of every available slot into the ledger. The files
// are left in place until the checkpoint holds their items.
func (d *Distributor) collect(report *Report, skipped map[int]bool) []int {
	var reclaimable []int
	for _, slot := range report.Available {
		pending, err := d.Queues.Pending(slot)
		if err != nil {
			skipped[slot] = true
			report.Skipped = append(report.Skipped, slot)
			d.Log.WithError(err).WithField("slot", slot).Warn("read queue of available slot")
			continue
		}
		reclaimable = append(reclaimable, slot)
		if len(pending) == 0 {
			continue
		}
		d.Ledger.Extend(pending)
		report.Reclaimed += len(pending)
		d.Log.WithFields(logrus.Fields{"slot": slot, "items": len(pending)}).Info("reclaimed unconsumed work")
		d.Journal.Event(logbook.LevelInfo, "RECLAIM", logbook.Fields{"slot": slot, "items": len(pending)})
	}
	return reclaimable
}

// adoptStranded moves the items of queue files outside the current slot layout
// into the ledger and returns those files, plus binding files of slots beyond
// the pool, for removal once the checkpoint holds the items. A stranded queue
// that cannot be read is fatal: its items would otherwise never be counted.
func (d *Distributor) adoptStranded(report *Report) ([]string, error) {
	queues, err := d.Queues.Stranded(d.Slots.Max())
	if err != nil {
		return nil, fmt.Errorf("distributor: %w", err)
	}
	bindings, err := d.Slots.Stranded()
	if err != nil {
		return nil, fmt.Errorf("distributor: %w", err)
	}
	for _, path := range queues {
		items, err := filestore.Read(path)
		if err != nil {
			return nil, fmt.Errorf("distributor: stranded queue: %w", err)
		}
		d.Log.WithFields(logrus.Fields{"file": path, "items": len(items)}).Warn("reclaiming queue outside the slot pool")
		d.Journal.Event(logbook.LevelWarn, "RECLAIM_STRANDED", logbook.Fields{"file": path, "items": len(items)})
		if len(items) == 0 {
			continue
		}
		d.Ledger.Extend(items)
		report.Reclaimed += len(items)
	}
	for _, path := range bindings {
		d.Log.WithField("file", path).Warn("dropping binding outside the slot pool")
	}
	return append(queues, bindings...), nil
}

// fill hands new chunks to active slots whose queues are empty.
func (d *Distributor) fill(report *Report, skipped map[int]bool) error {
	for _, slot := range report.Active {
		empty, err := d.Queues.EmptyOrMissing(slot)
		if err != nil {
			skipped[slot] = true
			report.Skipped = append(report.Skipped, slot)
			d.Log.WithError(err).WithField("slot", slot).Warn("inspect queue of active slot")
			continue
		}
		if empty {
			report.Hungry = append(report.Hungry, slot)
		}
	}
	h := len(report.Hungry)
	if h == 0 {
		return nil
	}
	n := h * d.opts.MaxItemsPerSlot
	if n > d.Ledger.Len() {
		n = d.Ledger.Len()
	}
	if n == 0 {
		return nil
	}
	chunks := slotqueue.Partition(d.Ledger.TakeFront(n), h)
	for i, slot := range report.Hungry {
		if len(chunks[i]) == 0 {
			continue
		}
		if err := d.Queues.Assign(slot, chunks[i]); err != nil {
			return fmt.Errorf("distributor: %w", err)
		}
		report.Assigned += len(chunks[i])
		d.Log.WithFields(logrus.Fields{"slot": slot, "items": len(chunks[i])}).Debug("assigned chunk")
	}
	return nil
}

func (d *Distributor) submit(ctx context.Context, slot int, report *Report) {
	spec := scheduler.SlotSpec{
		Slot:      slot,
		QueueFile: d.Queues.QueueFile(slot),
		Tasks:     d.Queues.Tasks(),
		JobName:   d.Paths.JobName(slot),
	}
	entry := d.Log.WithField("slot", slot)
	id, err := d.Scheduler.Submit(ctx, spec)
	if err != nil {
		report.SubmitFailed = append(report.SubmitFailed, slot)
		entry.WithError(err).Warn("submission failed; slot left unbound")
		d.Journal.Event(logbook.LevelWarn, "SUBMIT_FAILED", logbook.Fields{"slot": slot, "error": err})
		if uerr := d.Slots.Unbind(slot); uerr != nil {
			entry.WithError(uerr).Warn("unbind slot")
		}
		if d.Metrics != nil {
			d.Metrics.Submissions.WithLabelValues(metrics.ResultFailed).Inc()
		}
		return
	}
	report.Submitted = append(report.Submitted, slot)
	if err := d.Slots.Bind(slot, id); err != nil {
		entry.WithError(err).WithField("job", id).Warn("record binding")
	}
	entry.WithField("job", id).Info("submitted job")
	d.Journal.Event(logbook.LevelInfo, "SUBMIT", logbook.Fields{"slot": slot, "job": id})
	if d.Metrics != nil {
		d.Metrics.Submissions.WithLabelValues(metrics.ResultOK).Inc()
	}
}

// terminationReason reports why the run should stop, or "" to keep going. A
// slot whose queue cannot be inspected counts as holding work.
func (d *Distributor) terminationReason() string {
	if filestore.Exists(d.Paths.Terminate()) {
		return ReasonRequested
	}
	if d.Ledger.Len() > 0 {
		return ""
	}
	for slot := 0; slot < d.Slots.Max(); slot++ {
		empty, err := d.Queues.EmptyOrMissing(slot)
		if err != nil || !empty {
			return ""
		}
	}
	return ReasonDrained
}

func (d *Distributor) observe(report *Report) {
	m := d.Metrics
	if m == nil {
		return
	}
	m.Cycles.Inc()
	if report.QueryFailed {
		m.QueryFailures.Inc()
	}
	m.LedgerItems.Set(float64(report.Remaining))
	m.SlotsActive.Set(float64(len(report.Active)))
	m.SlotsAvailable.Set(float64(len(report.Available)))
	m.SlotsHungry.Set(float64(len(report.Hungry)))
	m.SlotsBound.Set(float64(d.Slots.Bound()))
	m.ItemsReclaimed.Add(float64(report.Reclaimed))
	m.ItemsAssigned.Add(float64(report.Assigned))
	m.LastCycleUnixSecs.SetToCurrentTime()
	if err := m.WriteTextfile(d.opts.MetricsTextfile); err != nil {
		d.Log.WithError(err).Warn("export metrics")
	}
}
