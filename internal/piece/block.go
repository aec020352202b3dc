package piece

// Block is a part of a piece and the unit of a wire request.
type Block struct {
	Index  uint32 // index in piece
	Begin  uint32 // offset in piece
	Length uint32
}

// BlockRequest identifies one block transfer in torrent coordinates.
type BlockRequest struct {
	Index  uint32 // piece index
	Begin  uint32
	Length uint32
}

// Request returns the BlockRequest for block b of piece index.
func (b Block) Request(index uint32) BlockRequest {
	return BlockRequest{Index: index, Begin: b.Begin, Length: b.Length}
}
