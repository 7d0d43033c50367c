package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cassa/internal/amqp"
	"cassa/internal/fund"
	"cassa/internal/gateway"
	logx "cassa/internal/log"
)

// Report is the outcome of one audit over the stored fund state.
type Report struct {
	CheckedAt      time.Time
	StoredBalance  int64
	DerivedBalance int64
	Transactions   int
	// Problem is nil when the stored state satisfies the fund invariant.
	Problem error
}

// OK reports whether the audit found no inconsistency.
func (r Report) OK() bool { return r.Problem == nil }

// FundAuditor checks the persisted fund state against its own transaction
// log. It reads from the store, never from a ledger's memory, so it can run
// in a separate process.
type FundAuditor struct {
	store    gateway.FundStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last Report
	runs int
}

func NewFundAuditor(store gateway.FundStore, interval time.Duration, logger *slog.Logger) *FundAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FundAuditor{
		store:    store,
		interval: interval,
		logger:   logger.With(logx.FieldComponent, logx.ComponentWorker),
		now:      time.Now,
	}
}

// Audit loads the fund state and verifies it. A load failure is returned
// as an error; an inconsistent state is reported in Report.Problem.
func (a *FundAuditor) Audit(ctx context.Context) (Report, error) {
	state, err := a.store.LoadFund(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Fund audit could not load state",
			logx.FieldOperation, logx.OpAudit,
			logx.FieldErrorType, logx.ErrorTypePersistence,
			logx.FieldError, err)
		return Report{}, fmt.Errorf("load fund: %w", err)
	}

	report := Report{
		CheckedAt:      a.now(),
		StoredBalance:  state.Balance,
		DerivedBalance: fund.DeriveBalance(state.Transactions),
		Transactions:   len(state.Transactions),
		Problem:        fund.Verify(state),
	}

	a.mu.Lock()
	a.last = report
	a.runs++
	a.mu.Unlock()

	if report.OK() {
		a.logger.DebugContext(ctx, "Fund audit passed",
			logx.FieldOperation, logx.OpAudit,
			logx.FieldBalance, report.StoredBalance,
			logx.FieldCount, report.Transactions)
	} else {
		a.logger.WarnContext(ctx, "Fund audit found drift",
			logx.FieldOperation, logx.OpAudit,
			logx.FieldBalance, report.StoredBalance,
			"derived_balance", report.DerivedBalance,
			logx.FieldError, report.Problem)
	}
	return report, nil
}

// HandleEvent audits after events that may have moved the fund. Only load
// failures are returned so the message is requeued; drift is logged.
func (a *FundAuditor) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	if !ev.Type.TouchesFund() {
		return nil
	}
	_, err := a.Audit(ctx)
	return err
}

// Run audits once immediately and then every interval until ctx is done.
func (a *FundAuditor) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "Starting fund auditor", "interval", a.interval)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	_, _ = a.Audit(ctx)
	for {
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "Fund auditor stopped", "runs", a.Runs())
			return nil
		case <-ticker.C:
			_, _ = a.Audit(ctx)
		}
	}
}

// Last returns the most recent successful audit.
func (a *FundAuditor) Last() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *FundAuditor) Runs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}
