package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neo1415/salvage-management-system-sub002/internal/model"
)

func TestReplacementBid(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bid := func(id, vendor string, amount int64, offset time.Duration) model.Bid {
		return model.Bid{ID: id, VendorID: vendor, Amount: decimal.NewFromInt(amount), CreatedAt: base.Add(offset)}
	}

	tests := []struct {
		name     string
		bids     []model.Bid
		statuses map[string]model.VendorStatus
		wantID   string
	}{
		{
			name: "second highest by another approved vendor",
			bids: []model.Bid{
				bid("b1", "v2", 200_000, 0),
				bid("b2", "v3", 250_000, time.Minute),
				bid("b3", "v1", 300_000, 2*time.Minute),
				bid("b4", "v1", 320_000, 3*time.Minute),
			},
			statuses: map[string]model.VendorStatus{
				"v1": model.VendorStatusSuspended,
				"v2": model.VendorStatusApproved,
				"v3": model.VendorStatusApproved,
			},
			wantID: "b2",
		},
		{
			name: "equal amounts keep the earlier bid",
			bids: []model.Bid{
				bid("b1", "v3", 250_000, time.Minute),
				bid("b2", "v2", 250_000, 0),
				bid("b3", "v1", 300_000, 2*time.Minute),
			},
			statuses: map[string]model.VendorStatus{
				"v1": model.VendorStatusSuspended,
				"v2": model.VendorStatusApproved,
				"v3": model.VendorStatusApproved,
			},
			wantID: "b2",
		},
		{
			name: "only the suspended vendor bid",
			bids: []model.Bid{
				bid("b1", "v1", 200_000, 0),
				bid("b2", "v1", 300_000, time.Minute),
			},
			statuses: map[string]model.VendorStatus{"v1": model.VendorStatusSuspended},
		},
		{
			name: "other bidders are not approved",
			bids: []model.Bid{
				bid("b1", "v2", 200_000, 0),
				bid("b2", "v3", 250_000, time.Minute),
				bid("b3", "v1", 300_000, 2*time.Minute),
			},
			statuses: map[string]model.VendorStatus{
				"v1": model.VendorStatusSuspended,
				"v2": model.VendorStatusSuspended,
				"v3": model.VendorStatusRejected,
			},
		},
		{
			name: "excluded vendor is skipped even if still approved",
			bids: []model.Bid{
				bid("b1", "v2", 200_000, 0),
				bid("b2", "v1", 300_000, time.Minute),
			},
			statuses: map[string]model.VendorStatus{
				"v1": model.VendorStatusApproved,
				"v2": model.VendorStatusApproved,
			},
			wantID: "b1",
		},
		{
			name: "no bids",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := replacementBid(tt.bids, tt.statuses, "v1")
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}
