package emberplus

import (
	"fmt"

	"github.com/superdash/superdash/internal/device"
)

// stateEnumeration is the normative enum ordering exposed on every
// device State parameter.
const stateEnumeration = "stop\nplay\nrec\noffline"

// Parameter is one leaf of the provider tree. All parameters are
// read-only.
type Parameter struct {
	Number      int
	Identifier  string
	Description string
	Type        int
	Value       any
	Enumeration string
}

// Node is one branch of the provider tree.
type Node struct {
	Number      int
	Identifier  string
	Description string
	Nodes       []*Node
	Parameters  []*Parameter
}

// deviceParams indexes the mutable parameters of one device node.
type deviceParams struct {
	path      []int
	state     *Parameter
	timecode  *Parameter
	filename  *Parameter
	connected *Parameter
}

// tree is the provider's static hierarchy plus the per-device
// parameter index used for updates.
type tree struct {
	root        *Node
	deviceCount *Parameter
	devices     map[int]*deviceParams
}

// Device parameter numbers.
const (
	paramState     = 1
	paramTimecode  = 2
	paramFilename  = 3
	paramConnected = 4
	paramType      = 5
)

// buildTree constructs the static hierarchy:
//
//	SuperDash (#1)
//	├── Info (#1): Version, DeviceCount
//	└── Devices (#2): one node per configured device
func buildTree(version string, devices []device.Config) *tree {
	t := &tree{devices: make(map[int]*deviceParams, len(devices))}

	t.deviceCount = &Parameter{
		Number:     2,
		Identifier: "DeviceCount",
		Type:       TypeInteger,
		Value:      int64(len(devices)),
	}
	info := &Node{
		Number:     1,
		Identifier: "Info",
		Parameters: []*Parameter{
			{Number: 1, Identifier: "Version", Type: TypeString, Value: version},
			t.deviceCount,
		},
	}

	devicesNode := &Node{Number: 2, Identifier: "Devices"}
	for i, cfg := range devices {
		number := i + 1
		params := &deviceParams{
			path: []int{1, 2, number},
			state: &Parameter{
				Number:      paramState,
				Identifier:  "State",
				Type:        TypeEnum,
				Enumeration: stateEnumeration,
				Value:       int64(device.StateOffline.EnumIndex()),
			},
			timecode: &Parameter{
				Number:     paramTimecode,
				Identifier: "Timecode",
				Type:       TypeString,
				Value:      device.InitialTimecode,
			},
			filename: &Parameter{
				Number:     paramFilename,
				Identifier: "Filename",
				Type:       TypeString,
				Value:      "",
			},
			connected: &Parameter{
				Number:     paramConnected,
				Identifier: "Connected",
				Type:       TypeBoolean,
				Value:      false,
			},
		}
		t.devices[cfg.ID] = params

		devicesNode.Nodes = append(devicesNode.Nodes, &Node{
			Number:      number,
			Identifier:  fmt.Sprintf("Device%d", cfg.ID),
			Description: cfg.Name,
			Parameters: []*Parameter{
				params.state,
				params.timecode,
				params.filename,
				params.connected,
				{Number: paramType, Identifier: "Type", Type: TypeString, Value: string(cfg.Type)},
			},
		})
	}

	t.root = &Node{
		Number:     1,
		Identifier: "SuperDash",
		Nodes:      []*Node{info, devicesNode},
	}
	return t
}

// findNode walks the tree by absolute path. An empty path addresses
// the virtual root above SuperDash.
func (t *tree) findNode(path []int) *Node {
	if len(path) == 0 {
		return &Node{Nodes: []*Node{t.root}}
	}
	cur := &Node{Nodes: []*Node{t.root}}
	for _, number := range path {
		var next *Node
		for _, child := range cur.Nodes {
			if child.Number == number {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// findParameter resolves a path to a parameter, or nil when the path
// names a node or nothing.
func (t *tree) findParameter(path []int) *Parameter {
	if len(path) == 0 {
		return nil
	}
	parent := t.findNode(path[:len(path)-1])
	if parent == nil {
		return nil
	}
	for _, p := range parent.Parameters {
		if p.Number == path[len(path)-1] {
			return p
		}
	}
	return nil
}

// childrenResponse encodes the GetDirectory answer for the node at
// path: every child node and parameter, qualified by absolute path.
func (t *tree) childrenResponse(path []int) ([]byte, error) {
	node := t.findNode(path)
	if node == nil {
		// Unknown path: answer with the root so the consumer can
		// resynchronise.
		return t.childrenResponse(nil)
	}

	var elements [][]byte
	for _, child := range node.Nodes {
		childPath := appendPath(path, child.Number)
		elements = append(elements, encodeQualifiedNode(childPath, child.Identifier, child.Description))
	}
	for _, p := range node.Parameters {
		childPath := appendPath(path, p.Number)
		encoded, err := encodeQualifiedParameter(childPath, p, true)
		if err != nil {
			return nil, err
		}
		elements = append(elements, encoded)
	}
	return encodeRoot(elements...), nil
}

// valueUpdate encodes a value-only QualifiedParameter push.
func valueUpdate(path []int, p *Parameter) ([]byte, error) {
	encoded, err := encodeQualifiedParameter(path, p, false)
	if err != nil {
		return nil, err
	}
	return encodeRoot(encoded), nil
}

func appendPath(path []int, number int) []int {
	out := make([]int, 0, len(path)+1)
	out = append(out, path...)
	return append(out, number)
}
