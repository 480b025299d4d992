package edi

import "fmt"

// HL level codes used by the 856.
const (
	LevelShipment = "S"
	LevelOrder    = "O"
	LevelPack     = "P"
	LevelItem     = "I"
)

// HLNode is one level of an 856 hierarchy. Segments starts with the HL
// segment itself and holds everything up to the next HL.
type HLNode struct {
	ID       string    `json:"id"`
	ParentID string    `json:"parentId,omitempty"`
	Level    string    `json:"level"`
	Segments []Segment `json:"segments"`
	Children []*HLNode `json:"children,omitempty"`
}

// FindFirst returns the first segment of this node (not its children) with tag.
func (n *HLNode) FindFirst(tag string) (Segment, bool) {
	return FindFirst(n.Segments, tag)
}

// FindAll returns the node's own segments with tag.
func (n *HLNode) FindAll(tag string) []Segment {
	return FindAll(n.Segments, tag)
}

// ExtractHierarchicalLoops builds the HL tree from HL01 (id), HL02 (parent
// id) and HL03 (level code). The returned root is a document node: its
// Segments are the header segments before the first HL and its Children are
// the HL loops without a parent. Extraction halts at any tag in stopTags.
func ExtractHierarchicalLoops(segments []Segment, stopTags []string) (*HLNode, error) {
	root := &HLNode{}
	byID := make(map[string]*HLNode)
	current := root

	for _, s := range segments {
		if contains(stopTags, s.Tag) {
			break
		}
		if s.Tag != "HL" {
			current.Segments = append(current.Segments, s)
			continue
		}

		node := &HLNode{
			ID:       s.Element(1),
			ParentID: s.Element(2),
			Level:    s.Element(3),
			Segments: []Segment{s},
		}
		if node.ID == "" {
			return nil, fmt.Errorf("HL segment without an id")
		}
		if _, dup := byID[node.ID]; dup {
			return nil, fmt.Errorf("duplicate HL id %s", node.ID)
		}

		parent := root
		if node.ParentID != "" {
			p, ok := byID[node.ParentID]
			if !ok {
				return nil, fmt.Errorf("HL %s references unknown parent %s", node.ID, node.ParentID)
			}
			parent = p
		}
		parent.Children = append(parent.Children, node)
		byID[node.ID] = node
		current = node
	}
	return root, nil
}
