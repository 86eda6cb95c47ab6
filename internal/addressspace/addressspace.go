// Package addressspace holds the node attributes the server answers Read and
// Write with.
package addressspace

import (
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/service"
)

// Attribute ids served by this package.
const (
	AttributeNodeID      = service.AttributeNodeID
	AttributeNodeClass   = service.AttributeNodeClass
	AttributeBrowseName  = service.AttributeBrowseName
	AttributeDisplayName = service.AttributeDisplayName
	AttributeDescription = service.AttributeDescription
	AttributeValue       = service.AttributeValue
	AttributeDataType    = service.AttributeDataType
	AttributeAccessLevel = service.AttributeAccessLevel
)

// NodeClassVariable is the NodeClass attribute of every node in Memory.
const NodeClassVariable int32 = 2

// AccessLevel is the AccessLevel attribute bit set.
type AccessLevel byte

const (
	AccessLevelRead  AccessLevel = 0x01
	AccessLevelWrite AccessLevel = 0x02

	AccessLevelReadWrite = AccessLevelRead | AccessLevelWrite
)

// AddressSpace resolves node attributes. Errors carry a codec.StatusCode.
type AddressSpace interface {
	GetAttribute(nodeID codec.NodeID, attributeID uint32) (codec.Variant, error)
	SetAttribute(nodeID codec.NodeID, attributeID uint32, value codec.Variant) error
}
