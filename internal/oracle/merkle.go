package oracle

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// merkleRoot folds a leaf up an inclusion branch. The index's low bit at each
// level says whether the leaf sits left (0) or right (1) of its sibling.
func merkleRoot(leaf common.Hash, index uint64, branch []common.Hash) common.Hash {
	node := leaf
	for _, sibling := range branch {
		if index&1 == 0 {
			node = crypto.Keccak256Hash(node[:], sibling[:])
		} else {
			node = crypto.Keccak256Hash(sibling[:], node[:])
		}
		index >>= 1
	}
	return node
}

// BuildMerkle computes the root and per-leaf branches for a set of leaves,
// padding odd levels by duplicating the last node. Producer-side helper for
// log keepers and tests.
func BuildMerkle(leaves []common.Hash) (common.Hash, [][]common.Hash) {
	if len(leaves) == 0 {
		return common.Hash{}, nil
	}
	branches := make([][]common.Hash, len(leaves))
	// position of each original leaf at the current level
	pos := make([]int, len(leaves))
	for i := range pos {
		pos[i] = i
	}

	level := append([]common.Hash(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.Keccak256Hash(level[i][:], level[i+1][:])
		}
		for leafIdx := range branches {
			p := pos[leafIdx]
			sibling := p ^ 1
			branches[leafIdx] = append(branches[leafIdx], level[sibling])
			pos[leafIdx] = p / 2
		}
		level = next
	}
	return level[0], branches
}
