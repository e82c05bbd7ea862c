package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStreamHandler_PushesMatchingSnapshots(t *testing.T) {
	svc := new(MockTreasuryService)
	ch := make(chan *model.Snapshot, 4)
	svc.On("Subscribe", mock.Anything).Return((<-chan *model.Snapshot)(ch))

	srv := httptest.NewServer(NewStreamHandler(svc, nil, zap.NewNop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?fund_id=fund-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ch <- &model.Snapshot{Fund: &model.Fund{ID: "fund-2"}}
	ch <- &model.Snapshot{Request: &model.WithdrawalRequest{ID: "req-1", FundID: "fund-1"}}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot.Request)
	assert.Equal(t, "req-1", msg.Snapshot.Request.ID)
}

func TestMatchesFund(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *model.Snapshot
		fundID   string
		want     bool
	}{
		{"no filter", &model.Snapshot{}, "", true},
		{"fund match", &model.Snapshot{Fund: &model.Fund{ID: "f"}}, "f", true},
		{"fund mismatch", &model.Snapshot{Fund: &model.Fund{ID: "g"}}, "f", false},
		{"request of fund", &model.Snapshot{Request: &model.WithdrawalRequest{FundID: "f"}}, "f", true},
		{"contribution of fund", &model.Snapshot{Contribution: &model.Contribution{FundID: "f"}}, "f", true},
		{"nothing to match", &model.Snapshot{}, "f", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFund(tt.snapshot, tt.fundID))
		})
	}
}
