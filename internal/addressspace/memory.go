package addressspace

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

var ErrNodeExists = errors.New("addressspace: node already exists")

// Variable is one variable node.
type Variable struct {
	NodeID      codec.NodeID
	BrowseName  codec.QualifiedName
	DisplayName codec.LocalizedText
	Description codec.LocalizedText
	Value       codec.Variant
	AccessLevel AccessLevel
	UpdatedAt   time.Time
}

// DataType is the DataType attribute: the namespace 0 id of the built-in
// type of the value.
func (v Variable) DataType() codec.NodeID {
	return codec.NewNumericNodeID(0, uint32(v.Value.Type))
}

// Memory is an in-memory AddressSpace of variable nodes.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*Variable
	now   func() time.Time
}

var _ AddressSpace = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]*Variable),
		now:   time.Now,
	}
}

// AddVariable registers v. BrowseName and DisplayName default to the node
// id text and AccessLevel to read-only.
func (m *Memory) AddVariable(v Variable) error {
	if v.NodeID.IsNull() {
		return codec.Errorf(codec.BadInvalidArgument, "variable with null node id")
	}
	key := v.NodeID.String()
	if v.BrowseName.Name == "" {
		v.BrowseName = codec.QualifiedName{NamespaceIndex: v.NodeID.Namespace, Name: key}
	}
	if v.DisplayName.Text == "" {
		v.DisplayName = codec.LocalizedText{Text: v.BrowseName.Name}
	}
	if v.AccessLevel == 0 {
		v.AccessLevel = AccessLevelRead
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[key]; ok {
		return fmt.Errorf("%w: %s", ErrNodeExists, key)
	}
	m.nodes[key] = &v
	return nil
}

// Variable returns a copy of the node stored under id.
func (m *Memory) Variable(id codec.NodeID) (Variable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.nodes[id.String()]
	if !ok {
		return Variable{}, false
	}
	return *v, true
}

// Variables returns copies of all nodes ordered by node id text.
func (m *Memory) Variables() []Variable {
	m.mu.RLock()
	out := make([]Variable, 0, len(m.nodes))
	for _, v := range m.nodes {
		out = append(out, *v)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].NodeID.String() < out[j].NodeID.String()
	})
	return out
}

func (m *Memory) GetAttribute(nodeID codec.NodeID, attributeID uint32) (codec.Variant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.nodes[nodeID.String()]
	if !ok {
		return codec.Variant{}, codec.Errorf(codec.BadNodeIDUnknown, "%s", nodeID)
	}

	switch attributeID {
	case AttributeNodeID:
		return codec.Variant{Type: codec.TypeNodeID, Value: v.NodeID}, nil
	case AttributeNodeClass:
		return codec.Variant{Type: codec.TypeInt32, Value: NodeClassVariable}, nil
	case AttributeBrowseName:
		return codec.Variant{Type: codec.TypeQualifiedName, Value: v.BrowseName}, nil
	case AttributeDisplayName:
		return codec.Variant{Type: codec.TypeLocalizedText, Value: v.DisplayName}, nil
	case AttributeDescription:
		return codec.Variant{Type: codec.TypeLocalizedText, Value: v.Description}, nil
	case AttributeValue:
		if v.AccessLevel&AccessLevelRead == 0 {
			return codec.Variant{}, codec.Errorf(codec.BadNotReadable, "%s", nodeID)
		}
		return v.Value, nil
	case AttributeDataType:
		return codec.Variant{Type: codec.TypeNodeID, Value: v.DataType()}, nil
	case AttributeAccessLevel:
		return codec.Variant{Type: codec.TypeByte, Value: byte(v.AccessLevel)}, nil
	default:
		return codec.Variant{}, codec.Errorf(codec.BadAttributeIDInvalid, "attribute %d of %s", attributeID, nodeID)
	}
}

// SetAttribute writes the Value attribute. The new value must have the type
// and rank of the current one unless the current value is null.
func (m *Memory) SetAttribute(nodeID codec.NodeID, attributeID uint32, value codec.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.nodes[nodeID.String()]
	if !ok {
		return codec.Errorf(codec.BadNodeIDUnknown, "%s", nodeID)
	}

	switch attributeID {
	case AttributeValue:
	case AttributeNodeID, AttributeNodeClass, AttributeBrowseName, AttributeDisplayName,
		AttributeDescription, AttributeDataType, AttributeAccessLevel:
		return codec.Errorf(codec.BadNotWritable, "attribute %d of %s", attributeID, nodeID)
	default:
		return codec.Errorf(codec.BadAttributeIDInvalid, "attribute %d of %s", attributeID, nodeID)
	}

	if v.AccessLevel&AccessLevelWrite == 0 {
		return codec.Errorf(codec.BadNotWritable, "%s", nodeID)
	}
	if !v.Value.IsNull() && (value.Type != v.Value.Type || value.Array != v.Value.Array) {
		return codec.Errorf(codec.BadTypeMismatch, "%s holds %s, got %s", nodeID, v.Value.Type, value.Type)
	}
	v.Value = value
	v.UpdatedAt = m.now()
	return nil
}
