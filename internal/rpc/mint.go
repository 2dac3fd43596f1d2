package rpc

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// MintLen is the fixed serialized size of an SPL token mint account.
const MintLen = 82

// MintAccount is the decoded SPL token mint layout.
type MintAccount struct {
	MintAuthority   []byte // nil when the option flag is unset
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority []byte // nil when the option flag is unset
}

// HasMintAuthority reports whether minting is still possible.
func (m *MintAccount) HasMintAuthority() bool {
	return m.MintAuthority != nil
}

// HasFreezeAuthority reports whether token accounts can be frozen.
func (m *MintAccount) HasFreezeAuthority() bool {
	return m.FreezeAuthority != nil
}

// DecodeMint parses the 82-byte SPL mint layout:
// u32 mint_authority_option, [32]mint_authority, u64 supply, u8 decimals,
// u8 is_initialized, u32 freeze_authority_option, [32]freeze_authority.
// All integers are little-endian.
func DecodeMint(data []byte) (*MintAccount, error) {
	if len(data) < MintLen {
		return nil, fmt.Errorf("mint account too short: %d bytes", len(data))
	}

	m := &MintAccount{}
	if binary.LittleEndian.Uint32(data[0:4]) != 0 {
		m.MintAuthority = append([]byte(nil), data[4:36]...)
	}
	m.Supply = binary.LittleEndian.Uint64(data[36:44])
	m.Decimals = data[44]
	m.IsInitialized = data[45] != 0
	if binary.LittleEndian.Uint32(data[46:50]) != 0 {
		m.FreezeAuthority = append([]byte(nil), data[50:82]...)
	}
	return m, nil
}

// DecodeMintBase64 decodes the first element of a base64 account data pair
// and parses it as a mint layout.
func DecodeMintBase64(encoded string) (*MintAccount, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return DecodeMint(raw)
}
