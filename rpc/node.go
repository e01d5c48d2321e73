package rpc

import (
	"context"

	ethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/orbita-network/go-rollup-client/types"
)

// nodeClient speaks JSON-RPC to a chain authority endpoint.
type nodeClient struct {
	rpc *ethrpc.Client
}

var _ NodeClient = (*nodeClient)(nil)

// Dial connects to the chain authority at the given endpoint.
func Dial(endpoint string) (NodeClient, error) {
	client, err := ethrpc.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	return &nodeClient{rpc: client}, nil
}

func (c *nodeClient) SyncState(ctx context.Context, fromHeight uint64, tags []uint32, nullifierPrefixes [][]byte) (*StateSyncInfo, error) {
	var result StateSyncInfo
	err := c.rpc.CallContext(ctx, &result, "client_syncState", fromHeight, tags, nullifierPrefixes)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *nodeClient) GetNotesByID(ctx context.Context, ids []types.NoteID) ([]*types.NoteDetails, error) {
	var result []*types.NoteDetails
	err := c.rpc.CallContext(ctx, &result, "client_getNotesById", ids)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *nodeClient) CheckNullifiers(ctx context.Context, prefixes [][]byte, fromHeight uint64) ([]*NullifierUpdate, error) {
	var result []*NullifierUpdate
	err := c.rpc.CallContext(ctx, &result, "client_checkNullifiers", prefixes, fromHeight)
	if err != nil {
		return nil, err
	}
	return result, nil
}
