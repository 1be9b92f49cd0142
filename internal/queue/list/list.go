// Package list implements the FIFO the queue keeps its active and
// blocked consumers in: a doubly-linked list with an auxiliary index
// from channel id to entry set, so channel lookups and single-tag
// removal only touch that channel's entries.
package list

import (
	"container/list"

	"github.com/amq-core/brokerqueue/internal/domain"
)

// Entry is one (channel, consumer) pairing.
type Entry struct {
	ChannelID domain.ChannelID
	Consumer  domain.ConsumerRecord
}

// ConsumerList is a FIFO of Entry with O(1) head-pop and tail-push.
// HasChannel and RemoveTag use the auxiliary index and cost O(k) (k =
// that channel's entry count); RemoveChannel and MoveChannelTo walk the
// whole list to keep the removed entries in order, so they cost O(n).
type ConsumerList struct {
	order *list.List
	byCh  map[domain.ChannelID]map[*list.Element]struct{}
}

// New returns an empty ConsumerList.
func New() *ConsumerList {
	return &ConsumerList{
		order: list.New(),
		byCh:  make(map[domain.ChannelID]map[*list.Element]struct{}),
	}
}

// Len returns the number of entries.
func (c *ConsumerList) Len() int { return c.order.Len() }

// PushBack appends e to the tail.
func (c *ConsumerList) PushBack(e Entry) {
	elem := c.order.PushBack(e)
	set, ok := c.byCh[e.ChannelID]
	if !ok {
		set = make(map[*list.Element]struct{})
		c.byCh[e.ChannelID] = set
	}
	set[elem] = struct{}{}
}

// Front returns the head entry and true, or the zero Entry and false if
// empty.
func (c *ConsumerList) Front() (Entry, bool) {
	elem := c.order.Front()
	if elem == nil {
		return Entry{}, false
	}
	return elem.Value.(Entry), true
}

// RotateFrontToBack moves the head entry to the tail and returns it. It
// is a no-op returning (Entry{}, false) on an empty list.
func (c *ConsumerList) RotateFrontToBack() (Entry, bool) {
	elem := c.order.Front()
	if elem == nil {
		return Entry{}, false
	}
	e := elem.Value.(Entry)
	c.removeElement(elem)
	c.PushBack(e)
	return e, true
}

// RemoveChannel deletes every entry belonging to channelID and returns
// them in their original relative order.
func (c *ConsumerList) RemoveChannel(channelID domain.ChannelID) []Entry {
	set, ok := c.byCh[channelID]
	if !ok || len(set) == 0 {
		return nil
	}
	// Walk in list order so the returned slice preserves relative order,
	// rather than the arbitrary order of a map.
	var removed []Entry
	var toRemove []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if _, ok := set[elem]; ok {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		removed = append(removed, elem.Value.(Entry))
		c.order.Remove(elem)
	}
	delete(c.byCh, channelID)
	return removed
}

// MoveChannelTo removes every entry for channelID from c and appends them,
// in their original relative order, to the tail of dest.
func (c *ConsumerList) MoveChannelTo(channelID domain.ChannelID, dest *ConsumerList) {
	entries := c.RemoveChannel(channelID)
	for _, e := range entries {
		dest.PushBack(e)
	}
}

// RemoveTag deletes the single entry matching (channelID, tag), if
// present, and reports whether one was found.
func (c *ConsumerList) RemoveTag(channelID domain.ChannelID, tag domain.ConsumerTag) bool {
	set, ok := c.byCh[channelID]
	if !ok {
		return false
	}
	for elem := range set {
		if elem.Value.(Entry).Consumer.Tag == tag {
			c.removeElement(elem)
			return true
		}
	}
	return false
}

// HasChannel reports whether any entry belongs to channelID.
func (c *ConsumerList) HasChannel(channelID domain.ChannelID) bool {
	set, ok := c.byCh[channelID]
	return ok && len(set) > 0
}

// Entries returns a snapshot of every entry in order, for introspection
// (management API, tests) — never used on the hot dispatch path.
func (c *ConsumerList) Entries() []Entry {
	out := make([]Entry, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(Entry))
	}
	return out
}

func (c *ConsumerList) removeElement(elem *list.Element) {
	e := elem.Value.(Entry)
	if set, ok := c.byCh[e.ChannelID]; ok {
		delete(set, elem)
		if len(set) == 0 {
			delete(c.byCh, e.ChannelID)
		}
	}
	c.order.Remove(elem)
}
