package s3blob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarket/veilmarket/internal/domain"
)

func TestDeploymentRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		blob := newMemBlob()
		info := DeploymentInfo{
			ChainID:         31337,
			BettingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			CreationFeeWei:  "10000000000000000",
			PlatformFeeBps:  250,
			DeployedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, WriteDeployment(ctx, blob, info))

		got, err := ReadDeployment(ctx, blob, 31337)
		require.NoError(t, err)
		assert.Equal(t, info, got)
	})

	t.Run("KeyedByChain", func(t *testing.T) {
		blob := newMemBlob()
		require.NoError(t, WriteDeployment(ctx, blob, DeploymentInfo{ChainID: 1}))
		require.NoError(t, WriteDeployment(ctx, blob, DeploymentInfo{ChainID: 31337}))
		assert.Len(t, blob.objects, 2)
	})

	t.Run("DeployedAtDefaulted", func(t *testing.T) {
		blob := newMemBlob()
		require.NoError(t, WriteDeployment(ctx, blob, DeploymentInfo{ChainID: 1}))

		got, err := ReadDeployment(ctx, blob, 1)
		require.NoError(t, err)
		assert.False(t, got.DeployedAt.IsZero())
	})

	t.Run("MissingRecord", func(t *testing.T) {
		_, err := ReadDeployment(ctx, newMemBlob(), 999)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
