package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context, commitment string) (int64, error) {
	params := []interface{}{
		map[string]string{"commitment": commitment},
	}
	result, err := c.call(ctx, "getSlot", params)
	if err != nil {
		return 0, fmt.Errorf("getSlot: %w", err)
	}

	var slot int64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("unmarshal slot: %w", err)
	}
	return slot, nil
}

// GetAccountInfo returns the account at address with base64-encoded data, or
// nil if the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{
		address,
		map[string]string{
			"encoding":   "base64",
			"commitment": "processed",
		},
	}
	result, err := c.call(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo(%s): %w", address, err)
	}

	var res getAccountInfoResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, fmt.Errorf("unmarshal account info: %w", err)
	}
	return res.Value, nil
}

// GetTokenLargestAccounts returns the largest token accounts for a mint,
// sorted by balance descending.
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint string) ([]TokenAccountBalance, error) {
	params := []interface{}{
		mint,
		map[string]string{"commitment": "processed"},
	}
	result, err := c.call(ctx, "getTokenLargestAccounts", params)
	if err != nil {
		return nil, fmt.Errorf("getTokenLargestAccounts(%s): %w", mint, err)
	}

	var res getTokenLargestAccountsResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, fmt.Errorf("unmarshal token accounts: %w", err)
	}
	return res.Value, nil
}

// GetSignaturesForAddress returns transaction signatures for an address.
// Results are returned newest-first by default.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, opts *GetSignaturesOpts) ([]SignatureInfo, error) {
	config := map[string]interface{}{
		"commitment": "confirmed",
	}
	if opts != nil {
		if opts.Limit > 0 {
			config["limit"] = opts.Limit
		}
		if opts.Before != "" {
			config["before"] = opts.Before
		}
		if opts.Until != "" {
			config["until"] = opts.Until
		}
	}

	params := []interface{}{address, config}
	result, err := c.call(ctx, "getSignaturesForAddress", params)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}

	var sigs []SignatureInfo
	if err := json.Unmarshal(result, &sigs); err != nil {
		return nil, fmt.Errorf("unmarshal signatures: %w", err)
	}
	return sigs, nil
}

type GetSignaturesOpts struct {
	Limit  int
	Before string // signature to start searching backwards from
	Until  string // signature to search until (exclusive)
}
