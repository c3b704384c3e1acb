package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// DeploymentInfo records the chain parameters a node instance is serving, so
// clients and operators can discover the contract binding for a chain.
type DeploymentInfo struct {
	ChainID         int       `json:"chain_id"`
	BettingContract string    `json:"betting_contract"`
	CreationFeeWei  string    `json:"creation_fee_wei"`
	PlatformFeeBps  int64     `json:"platform_fee_bps"`
	DeployedAt      time.Time `json:"deployed_at"`
}

// deploymentPath is the object key for a chain's deployment record.
func deploymentPath(chainID int) string {
	return fmt.Sprintf("deployments/chain-%d.json", chainID)
}

// WriteDeployment uploads the deployment record to
// deployments/chain-{id}.json, overwriting any previous record for the same
// chain.
func WriteDeployment(ctx context.Context, writer domain.BlobWriter, info DeploymentInfo) error {
	if info.DeployedAt.IsZero() {
		info.DeployedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal deployment info: %w", err)
	}

	if err := writer.Put(ctx, deploymentPath(info.ChainID), bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: write deployment info: %w", err)
	}
	return nil
}

// ReadDeployment fetches the deployment record a previous node instance wrote
// for the given chain. Returns domain.ErrNotFound when no record exists yet.
func ReadDeployment(ctx context.Context, reader domain.BlobReader, chainID int) (DeploymentInfo, error) {
	rc, err := reader.Get(ctx, deploymentPath(chainID))
	if err != nil {
		return DeploymentInfo{}, err
	}
	defer rc.Close()

	var info DeploymentInfo
	if err := json.NewDecoder(rc).Decode(&info); err != nil {
		return DeploymentInfo{}, fmt.Errorf("s3blob: decode deployment info: %w", err)
	}
	return info, nil
}
