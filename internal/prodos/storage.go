// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package prodos

import "github.com/go-vdisk/vdisk"

// blockList returns every data block number backing ee's data fork, in
// logical order, with 0 marking a hole. Seedling yields one entry;
// sapling reads one index block of up to 256 pointers; tree reads a
// master index of up to 128 index blocks.
func (fs *FS) blockList(ee *engineEntry) []int {
	switch ee.storage {
	case storageSeedling:
		if ee.keyBlock == 0 {
			return nil
		}
		return []int{ee.keyBlock}
	case storageSapling:
		return fs.readIndexBlock(ee.keyBlock)
	case storageTree:
		var out []int
		master := fs.readIndexBlock(ee.keyBlock)
		for _, idxBlock := range master {
			if idxBlock == 0 {
				out = append(out, make([]int, 256)...)
				continue
			}
			out = append(out, fs.readIndexBlock(idxBlock)...)
		}
		return out
	default:
		return nil
	}
}

func (fs *FS) readIndexBlock(block int) []int {
	if block == 0 {
		return nil
	}
	var buf [blockSize]byte
	if err := fs.chunks.ReadBlock(block, buf[:]); err != nil {
		return nil
	}
	out := make([]int, 256)
	for i := 0; i < 256; i++ {
		lo := buf[i]
		hi := buf[256+i]
		out[i] = int(lo) | int(hi)<<8
	}
	return out
}

func (fs *FS) writeIndexBlock(block int, refs []int) error {
	var buf [blockSize]byte
	for i := 0; i < 256 && i < len(refs); i++ {
		buf[i] = byte(refs[i])
		buf[256+i] = byte(refs[i] >> 8)
	}
	if err := fs.chunks.WriteBlock(block, buf[:]); err != nil {
		return vdisk.Wrap(vdisk.IoFailure, err, "prodos: write index block %d", block)
	}
	return nil
}

// freeFileBlocks releases every block a file's storage tree references,
// including index/master-index blocks themselves.
func (fs *FS) freeFileBlocks(ee *engineEntry) {
	switch ee.storage {
	case storageSeedling:
		if ee.keyBlock != 0 {
			fs.freeBlock(ee.keyBlock)
		}
	case storageSapling:
		for _, b := range fs.readIndexBlock(ee.keyBlock) {
			if b != 0 {
				fs.freeBlock(b)
			}
		}
		fs.freeBlock(ee.keyBlock)
	case storageTree:
		master := fs.readIndexBlock(ee.keyBlock)
		for _, idxBlock := range master {
			if idxBlock == 0 {
				continue
			}
			for _, b := range fs.readIndexBlock(idxBlock) {
				if b != 0 {
					fs.freeBlock(b)
				}
			}
			fs.freeBlock(idxBlock)
		}
		fs.freeBlock(ee.keyBlock)
	}
}

// rebuildStorage writes back blocks (a logical block-number list, 0 =
// hole) as the minimal seedling/sapling/tree representation, allocating
// or freeing index blocks as needed, and updates ee.storage/keyBlock.
func (fs *FS) rebuildStorage(ee *engineEntry, blocks []int) error {
	// Trim trailing holes.
	end := len(blocks)
	for end > 0 && blocks[end-1] == 0 {
		end--
	}
	blocks = blocks[:end]

	oldStorage := ee.storage
	var oldKey int
	if oldStorage != storageDeleted {
		oldKey = ee.keyBlock
	}

	switch {
	case len(blocks) <= 1:
		if len(blocks) == 1 {
			ee.keyBlock = blocks[0]
		} else if ee.keyBlock == 0 {
			kb, err := fs.allocBlock()
			if err != nil {
				return err
			}
			ee.keyBlock = kb
		}
		if oldStorage == storageSapling || oldStorage == storageTree {
			fs.freeIndexStructureOnly(oldStorage, oldKey)
		}
		ee.storage = storageSeedling

	case len(blocks) <= 256:
		var idxBlock int
		if oldStorage == storageSapling {
			idxBlock = oldKey
		} else {
			kb, err := fs.allocBlock()
			if err != nil {
				return err
			}
			idxBlock = kb
			if oldStorage == storageTree {
				fs.freeIndexStructureOnly(oldStorage, oldKey)
			}
		}
		padded := make([]int, 256)
		copy(padded, blocks)
		if err := fs.writeIndexBlock(idxBlock, padded); err != nil {
			return err
		}
		ee.storage = storageSapling
		ee.keyBlock = idxBlock

	default:
		numIdx := (len(blocks) + 255) / 256
		var master []int
		if oldStorage == storageTree {
			master = fs.readIndexBlock(oldKey)
		}
		if oldStorage != storageTree {
			kb, err := fs.allocBlock()
			if err != nil {
				return err
			}
			if oldStorage == storageSapling {
				fs.freeIndexStructureOnly(oldStorage, oldKey)
			}
			oldKey = kb
			master = make([]int, 128)
		}
		for len(master) < 128 {
			master = append(master, 0)
		}
		for i := 0; i < numIdx; i++ {
			idxBlock := master[i]
			if idxBlock == 0 {
				kb, err := fs.allocBlock()
				if err != nil {
					return err
				}
				idxBlock = kb
				master[i] = idxBlock
			}
			chunk := make([]int, 256)
			copy(chunk, blocks[i*256:min(len(blocks), (i+1)*256)])
			if err := fs.writeIndexBlock(idxBlock, chunk); err != nil {
				return err
			}
		}
		for i := numIdx; i < 128; i++ {
			if master[i] != 0 {
				fs.freeBlock(master[i])
				master[i] = 0
			}
		}
		if err := fs.writeIndexBlock(oldKey, master); err != nil {
			return err
		}
		ee.storage = storageTree
		ee.keyBlock = oldKey
	}

	ee.blocksUsed = len(blocks)
	if ee.storage != storageSeedling {
		ee.blocksUsed++ // the index/master block itself
	}
	if ee.storage == storageTree {
		ee.blocksUsed += (len(blocks) + 255) / 256
	}
	return nil
}

func (fs *FS) freeIndexStructureOnly(storage, key int) {
	switch storage {
	case storageSapling:
		fs.freeBlock(key)
	case storageTree:
		for _, idx := range fs.readIndexBlock(key) {
			if idx != 0 {
				fs.freeBlock(idx)
			}
		}
		fs.freeBlock(key)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
