package lightsystem

// CompressedAccountData is the optional program data carried by a compressed account
type CompressedAccountData struct {
	Discriminator [8]byte
	Data          []byte
	DataHash      [32]byte
}

// CompressedAccount mirrors the on-chain compressed account layout
type CompressedAccount struct {
	Owner    [32]byte
	Lamports uint64
	Address  *[32]byte              `bin:"optional"`
	Data     *CompressedAccountData `bin:"optional"`
}

type QueueIndex struct {
	QueueId uint8
	Index   uint16
}

// PackedMerkleContext references the tree and queue of an input account by
// their position in the instruction's remaining accounts.
type PackedMerkleContext struct {
	MerkleTreePubkeyIndex     uint8
	NullifierQueuePubkeyIndex uint8
	LeafIndex                 uint32
	QueueIndex                *QueueIndex `bin:"optional"`
}

type PackedCompressedAccountWithMerkleContext struct {
	CompressedAccount CompressedAccount
	MerkleContext     PackedMerkleContext
	RootIndex         uint16
	ReadOnly          bool
}

type OutputCompressedAccountWithPackedContext struct {
	CompressedAccount CompressedAccount
	MerkleTreeIndex   uint8
}

type NewAddressParamsPacked struct {
	Seed                          [32]byte
	AddressQueueAccountIndex      uint8
	AddressMerkleTreeAccountIndex uint8
	AddressMerkleTreeRootIndex    uint16
}
