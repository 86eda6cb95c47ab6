package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/opcuactl/internal/addressspace"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/server"
)

// Variable converts the entry into an address space node.
func (v VariableFile) Variable() (addressspace.Variable, error) {
	nodeID, err := codec.ParseNodeID(v.NodeID)
	if err != nil {
		return addressspace.Variable{}, fmt.Errorf("%w: node_id: %w", ErrInvalidConfig, err)
	}
	value, err := codec.ParseVariant(v.Type, v.Value)
	if err != nil {
		return addressspace.Variable{}, fmt.Errorf("%w: %s value: %w", ErrInvalidConfig, nodeID, err)
	}
	out := addressspace.Variable{
		NodeID:      nodeID,
		Value:       value,
		AccessLevel: addressspace.AccessLevelRead,
	}
	if name := strings.TrimSpace(v.Name); name != "" {
		out.BrowseName = codec.QualifiedName{NamespaceIndex: nodeID.Namespace, Name: name}
	}
	if desc := strings.TrimSpace(v.Description); desc != "" {
		out.Description = codec.LocalizedText{Text: desc}
	}
	if v.Writable {
		out.AccessLevel = addressspace.AccessLevelReadWrite
	}
	return out, nil
}

// BuildAddressSpace creates the server's address space from the configured
// variables plus the abort switch.
func BuildAddressSpace(cfg ServerFileConfig) (*addressspace.Memory, error) {
	space := addressspace.NewMemory()
	for i, entry := range cfg.Variables {
		v, err := entry.Variable()
		if err != nil {
			return nil, fmt.Errorf("variables[%d]: %w", i, err)
		}
		if err := space.AddVariable(v); err != nil {
			return nil, fmt.Errorf("variables[%d]: %w", i, err)
		}
	}
	if err := server.AddControlSwitches(space, cfg.Server); err != nil {
		return nil, err
	}
	return space, nil
}
