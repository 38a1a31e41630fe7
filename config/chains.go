package config

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/0xNedAlbo/midcurve-services/model"
)

// DefaultChains is the closed set of supported chains. Position-manager and
// factory addresses are protocol deployment constants, fixed per chain.
var DefaultChains = map[uint64]model.Chain{
	1: {
		ChainID:          1,
		Name:             "ethereum",
		PositionManager:  common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88"),
		PoolFactory:      common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		ExplorerProvider: 1,
	},
	42161: {
		ChainID:          42161,
		Name:             "arbitrum",
		PositionManager:  common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88"),
		PoolFactory:      common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		ExplorerProvider: 42161,
	},
	8453: {
		ChainID:          8453,
		Name:             "base",
		PositionManager:  common.HexToAddress("0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1"),
		PoolFactory:      common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
		ExplorerProvider: 8453,
	},
	10: {
		ChainID:          10,
		Name:             "optimism",
		PositionManager:  common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88"),
		PoolFactory:      common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		ExplorerProvider: 10,
	},
	137: {
		ChainID:          137,
		Name:             "polygon",
		PositionManager:  common.HexToAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88"),
		PoolFactory:      common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"),
		ExplorerProvider: 137,
	},
}

// SupportedChainIDs lists the supported chain ids.
func SupportedChainIDs() []uint64 {
	ids := make([]uint64, 0, len(DefaultChains))
	for id := range DefaultChains {
		ids = append(ids, id)
	}
	return ids
}
