package loan

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/collection-engine/generic"
)

// DefaultPurgeGrace is how long an inactive contract is kept before purge.
const DefaultPurgeGrace = 21 * 24 * time.Hour

// Purger physically deletes contracts that finished more than Grace ago,
// cascading their movements, payments and pending status.
type Purger struct {
	Repo     ContractRepository
	Grace    time.Duration
	Audit    generic.AuditSink // optional
	Observer Observer          // optional
	Log      *logrus.Entry
}

func NewPurger(repo ContractRepository, grace time.Duration, log *logrus.Entry) *Purger {
	if grace <= 0 {
		grace = DefaultPurgeGrace
	}
	return &Purger{Repo: repo, Grace: grace, Log: log, Observer: NopObserver{}}
}

// Purge deletes contracts finished before now - Grace. Returns the count.
func (p *Purger) Purge(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-p.Grace)
	n, err := p.Repo.PurgeFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if p.Observer != nil {
		p.Observer.ContractsPurged(n)
	}
	if p.Log != nil {
		p.Log.WithFields(logrus.Fields{"cutoff": cutoff.Format(time.RFC3339), "purged": n}).Info("finished contracts purged")
	}
	if p.Audit != nil && n > 0 {
		_ = p.Audit.RecordEvent(ctx, generic.NewAuditEntry(ctx, fmt.Sprintf("purged %d contracts finished before %s", n, cutoff.Format(generic.DateLayout))))
	}
	return n, nil
}
