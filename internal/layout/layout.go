// Package layout describes how a BK72xx flash image is split into
// partitions, and maps between each partition's on-flash address and the
// logical address the running firmware sees it mapped to.
package layout

// Partition is one region of flash: its size, where it starts on the raw
// chip, and where the running firmware expects it mapped in its address
// space (used by the code cipher, which is keyed by mapped address, not
// raw flash offset).
type Partition struct {
	Name   string
	Size   uint32
	Start  uint32
	Mapped uint32
}

// Layout is an ordered set of partitions covering one flash image. WithCRC
// is a property of the whole image, not of individual partitions: every
// partition in a "32+2"-encoded layout carries the interleaved CRC-16s.
type Layout struct {
	Name       string
	WithCRC    bool
	Partitions []Partition
}

// OTA1 is the layout used by every BK7231 OTA-capable firmware this tool
// targets: a bootloader partition followed by a single large app
// partition, both carrying the "32+2" CRC-interleaved format.
var OTA1 = Layout{
	Name:    "ota_1",
	WithCRC: true,
	Partitions: []Partition{
		{
			Name:   "bootloader",
			Size:   68 * 1024,
			Start:  0x000000,
			Mapped: 0x000000,
		},
		{
			Name:   "app",
			Size:   1150832,
			Start:  0x011000,
			Mapped: 0x010000,
		},
	},
}

// Find returns the partition containing addr, and false if none does.
func (l Layout) Find(addr uint32) (Partition, bool) {
	for _, p := range l.Partitions {
		if addr >= p.Start && addr < p.Start+p.Size {
			return p, true
		}
	}
	return Partition{}, false
}
