package transitions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ortelius/pdvd-ledger/internal/services"
	"github.com/ortelius/pdvd-ledger/model"
	"github.com/ortelius/pdvd-ledger/reconcile"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func event() model.TransitionApplied {
	return model.TransitionApplied{
		EventType:       TransitionAppliedEventType,
		EventID:         "e1",
		EventTime:       time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		SchemaVersion:   SchemaVersion,
		VulnerabilityID: "v1",
		FindingID:       "422286126",
		GroupName:       "unittesting",
		Ledger:          model.LedgerState,
		OldState:        "OPEN",
		NewState:        "CLOSED",
		Actor:           "machine",
	}
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, []string{
		"finding:422286126:vulnerabilities",
		"finding:422286126:indicators",
		"vulnerability:v1",
		"group:unittesting:indicators",
	}, CacheKeys(event()))

	e := event()
	e.VulnerabilityID = ""
	e.GroupName = ""
	assert.Len(t, CacheKeys(e), 2)
}

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	require.NoError(t, mr.Set("finding:422286126:indicators", "cached"))
	require.NoError(t, mr.Set("vulnerability:v1", "cached"))
	require.NoError(t, mr.Set("finding:other:indicators", "cached"))

	sub := client.Subscribe(ctx, DefaultChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := NewRedisNotifier(client, "")
	require.NoError(t, n.Publish(ctx, event()))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got model.TransitionApplied
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, event(), got)

	assert.False(t, mr.Exists("finding:422286126:indicators"))
	assert.False(t, mr.Exists("vulnerability:v1"))
	assert.True(t, mr.Exists("finding:other:indicators"))
}

func TestRedisNotifierUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisNotifier(client, "ch").Publish(context.Background(), event())
	require.Error(t, err)
}

type publisherFunc func(ctx context.Context, e model.TransitionApplied) error

func (f publisherFunc) Publish(ctx context.Context, e model.TransitionApplied) error { return f(ctx, e) }

func TestFanoutDeliversToAll(t *testing.T) {
	var delivered []string
	ok := func(name string) Publisher {
		return publisherFunc(func(_ context.Context, e model.TransitionApplied) error {
			delivered = append(delivered, name+":"+e.EventID)
			return nil
		})
	}
	failing := publisherFunc(func(context.Context, model.TransitionApplied) error {
		return errors.New("broker down")
	})

	err := Fanout{ok("a"), failing, nil, ok("b")}.Publish(context.Background(), event())

	require.EqualError(t, err, "broker down")
	assert.Equal(t, []string{"a:e1", "b:e1"}, delivered)
}

type fakeScanService struct {
	got []model.ScanRequest
	err error
}

func (f *fakeScanService) ProcessScan(_ context.Context, scan model.ScanRequest) (services.ScanReport, error) {
	f.got = append(f.got, scan)
	return services.ScanReport{Plan: reconcile.Plan{FindingID: scan.FindingID, Namespace: scan.Namespace}}, f.err
}

func TestHandleScanResults(t *testing.T) {
	logger := zaptest.NewLogger(t)
	svc := &fakeScanService{}
	scan := model.ScanRequest{
		FindingID: "422286126",
		Namespace: "back",
		Results: []model.CandidateResult{
			{FindingID: "422286126", Kind: model.KindLines, Where: "src/app.py", Specific: "10", Namespace: "back"},
		},
	}
	payload, err := json.Marshal(ScanResultsEvent{EventType: ScanResultsEventType, EventID: "e1", SchemaVersion: SchemaVersion, Scan: scan})
	require.NoError(t, err)

	require.NoError(t, HandleScanResultsWithService(context.Background(), payload, svc, logger))
	require.Len(t, svc.got, 1)
	assert.Equal(t, scan, svc.got[0])

	require.Error(t, HandleScanResultsWithService(context.Background(), []byte("{"), svc, logger))
	require.Error(t, HandleScanResultsWithService(context.Background(), []byte(`{"scan":{"finding_id":"1"}}`), svc, logger))

	svc.err = model.ErrFindingMissing
	err = HandleScanResultsWithService(context.Background(), payload, svc, logger)
	require.ErrorIs(t, err, model.ErrFindingMissing)
}

func TestProducerTopic(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "vulnerability-transitions")
	assert.Equal(t, "vulnerability-transitions", p.Writer.Topic)
	require.NoError(t, p.Close())
}
