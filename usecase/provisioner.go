package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/leadengine/whatsapp-ingest/domains/instance"
	"github.com/leadengine/whatsapp-ingest/domains/queue"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
)

const queueCacheTTL = 5 * time.Minute

// DefaultInboundQueueName is given to auto-provisioned default queues.
const DefaultInboundQueueName = "WhatsApp"

type cachedQueue struct {
	queue     *queue.Queue
	expiresAt time.Time
}

// ProvisionerService creates default queues and placeholder instances on
// first use. Queue lookups are cached per tenant with single-flight
// semantics so a burst of inbound messages cannot stampede the store.
type ProvisionerService struct {
	store Store

	mu     sync.Mutex
	queues map[string]cachedQueue
	group  singleflight.Group
}

func NewProvisionerService(store Store) *ProvisionerService {
	return &ProvisionerService{
		store:  store,
		queues: make(map[string]cachedQueue),
	}
}

// EnsureInboundQueue returns the tenant's default queue, provisioning it
// when missing. Concurrent callers for the same tenant share one store
// round trip.
func (p *ProvisionerService) EnsureInboundQueue(ctx context.Context, tenantID string) (*queue.Queue, error) {
	p.mu.Lock()
	if cached, ok := p.queues[tenantID]; ok && time.Now().Before(cached.expiresAt) {
		p.mu.Unlock()
		return cached.queue, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("queue:"+tenantID, func() (any, error) {
		q, err := p.store.FindDefaultQueue(ctx, tenantID)
		if err == nil {
			return q, nil
		}
		var nf apperror.NotFoundError
		if !errors.As(err, &nf) {
			return nil, err
		}

		created, err := p.store.CreateQueue(ctx, &queue.Queue{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Name:      DefaultInboundQueueName,
			IsDefault: true,
		})
		if err == nil {
			logrus.WithField("tenant_id", tenantID).Info("[PROVISION] Auto-provisioned default inbound queue")
			return created, nil
		}
		// A concurrent insert won the unique race; re-read the winner.
		var conflict apperror.ConflictError
		if errors.As(err, &conflict) {
			return p.store.FindDefaultQueue(ctx, tenantID)
		}
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	q := v.(*queue.Queue)
	p.mu.Lock()
	p.queues[tenantID] = cachedQueue{queue: q, expiresAt: time.Now().Add(queueCacheTTL)}
	p.mu.Unlock()
	return q, nil
}

// InvalidateQueue drops the cached queue for a tenant, forcing the next
// lookup to hit the store. Used when a persisted ticket references a
// queue that no longer exists.
func (p *ProvisionerService) InvalidateQueue(tenantID string) {
	p.mu.Lock()
	delete(p.queues, tenantID)
	p.mu.Unlock()
}

// AutoProvisionInstance creates a placeholder instance for an unknown
// broker session so its messages are not dropped.
func (p *ProvisionerService) AutoProvisionInstance(ctx context.Context, tenantID, brokerID string) (*instance.Instance, error) {
	created, err := p.store.CreateInstance(ctx, &instance.Instance{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		BrokerID: brokerID,
		Name:     "auto:" + brokerID,
		Status:   instance.StatusProvisioning,
	})
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"broker_id": brokerID,
		}).Info("[PROVISION] Auto-provisioned placeholder instance")
		return created, nil
	}
	var conflict apperror.ConflictError
	if errors.As(err, &conflict) {
		return p.store.FindInstanceByTenantBroker(ctx, tenantID, brokerID)
	}
	return nil, err
}

// Reset clears all caches. Test hook.
func (p *ProvisionerService) Reset() {
	p.mu.Lock()
	p.queues = make(map[string]cachedQueue)
	p.mu.Unlock()
}
