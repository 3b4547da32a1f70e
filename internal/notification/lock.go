package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const deliveryLockPrefix = "crm:notification-lock:"

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose lease expired cannot free a lock another job has taken since.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// DeliveryLock keeps two jobs from delivering the same notification at once.
type DeliveryLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewDeliveryLock returns a lock whose lease lasts ttl. The lease should
// cover one worker job timeout.
func NewDeliveryLock(client redis.UniversalClient, ttl time.Duration) *DeliveryLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DeliveryLock{client: client, ttl: ttl}
}

func deliveryLockKey(notificationID string) string {
	return deliveryLockPrefix + notificationID
}

// Acquire takes the lease for notificationID. ok is false when another
// holder has it. release is never nil and is safe to call more than once.
func (l *DeliveryLock) Acquire(ctx context.Context, notificationID string) (release func(), ok bool, err error) {
	key := deliveryLockKey(notificationID)
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire delivery lock: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release = func() {
		// Detached from the job context, which may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
