// Package sweep elects one instance to run the settlement sweep. Settlement
// is idempotent, so the election only avoids redundant chain submissions
// from every replica sweeping at once; losing leadership mid-pass is safe.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const electionPrefix = "/couponauction/sweep-leader"

// Elector campaigns for sweep leadership through etcd.
type Elector struct {
	cli     *clientv3.Client
	session *concurrency.Session
	id      string
}

func NewElector(endpoints []string) (*Elector, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	session, err := concurrency.NewSession(cli, concurrency.WithTTL(10))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	return &Elector{
		cli:     cli,
		session: session,
		id:      uuid.NewString(),
	}, nil
}

// RunWhenLeader blocks until this instance wins the election, then runs fn
// with a context that is cancelled if leadership (the etcd session) is
// lost. It returns when fn returns or ctx is cancelled.
func (e *Elector) RunWhenLeader(ctx context.Context, fn func(ctx context.Context)) error {
	election := concurrency.NewElection(e.session, electionPrefix)

	if err := election.Campaign(ctx, e.id); err != nil {
		return fmt.Errorf("election campaign failed: %w", err)
	}
	log.Printf("sweep: instance %s elected leader", e.id)

	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-e.session.Done():
			log.Printf("sweep: instance %s lost leadership", e.id)
			cancel()
		case <-leaderCtx.Done():
		}
	}()

	fn(leaderCtx)

	resignCtx, resignCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer resignCancel()
	if err := election.Resign(resignCtx); err != nil {
		log.Printf("sweep: resign failed: %v", err)
	}
	return nil
}

// Close releases the etcd session and connection.
func (e *Elector) Close() error {
	if err := e.session.Close(); err != nil {
		log.Printf("sweep: session close: %v", err)
	}
	return e.cli.Close()
}
