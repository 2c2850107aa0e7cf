package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "research-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "analysis")
	require.NoError(t, err)

	pub := NewWithClient(client, zap.NewNop())
	t.Cleanup(func() { _ = pub.Close() })
	require.NoError(t, pub.EnsureTopic(ctx, "analysis"))

	req := crawler.AnalysisRequest{
		JobID:       "job-1",
		Stub:        crawler.ReportStub{Title: "半导体周报", Link: "https://example.com/r/1"},
		Content:     crawler.NewReportContent("https://example.com/r/1", "正文", "primary", crawler.StrategyHTTP),
		RequestedAt: time.Unix(1700000000, 0).UTC(),
	}
	id, err := pub.Publish(ctx, "analysis", req)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])

	var got crawler.AnalysisRequest
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, req, got)
}

func TestEnsureTopicMissing(t *testing.T) {
	client, _ := newFakeClient(t)
	pub := NewWithClient(client, nil)
	t.Cleanup(func() { _ = pub.Close() })

	require.Error(t, pub.EnsureTopic(context.Background(), "nope"))
}

func TestPublishValidates(t *testing.T) {
	client, _ := newFakeClient(t)
	pub := NewWithClient(client, nil)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "analysis", func() {})
	require.Error(t, err)
}
