package config

const (
	DEFAULT_BATCH_SIZE     = 100
	MAX_BATCH_SIZE         = 1000
	DEFAULT_RETRY_BUDGET   = 3
	DEFAULT_FETCH_TIMEOUT  = 30000
	DEFAULT_WRITE_TIMEOUT  = 60000
	DEFAULT_HOT_WINDOW     = 200000
	DEFAULT_EXTENT_SIZE    = 10000
	DEFAULT_BACKOFF_BASE   = 2000
	DEFAULT_BACKOFF_CAP    = 300000
	DEFAULT_THROUGHPUT_EMA = 0.3
)

type familyDefault struct {
	pollInterval          int
	batchSize             int
	reorgDepth            int
	maxConcurrentRequests int
	retentionDays         int
}

// Per-family tuning. EVM payloads are heavier than Cosmos or Substrate blocks so
// their batches are smaller; reorg depth follows each family's typical finality.
var familyDefaults = map[NetworkFamily]familyDefault{
	FamilyEthereum: {pollInterval: 12000, batchSize: 50, reorgDepth: 64, maxConcurrentRequests: 10, retentionDays: 365},
	FamilyL2:       {pollInterval: 2000, batchSize: 100, reorgDepth: 32, maxConcurrentRequests: 20, retentionDays: 180},
	FamilyCosmos:   {pollInterval: 6000, batchSize: 200, reorgDepth: 1, maxConcurrentRequests: 10, retentionDays: 90},
	FamilyPolkadot: {pollInterval: 6000, batchSize: 200, reorgDepth: 10, maxConcurrentRequests: 10, retentionDays: 90},
}

// DefaultL2Networks lists the rollups monitored when the config names none.
var DefaultL2Networks = []string{
	"optimism",
	"arbitrum_one",
	"polygon_zkevm",
	"base",
	"zksync_era",
	"starknet",
	"linea",
	"scroll",
}

func (n *NetworkConfig) ApplyFamilyDefaults() {
	d, ok := familyDefaults[n.Family]
	if !ok {
		return
	}
	if n.PollInterval <= 0 {
		n.PollInterval = d.pollInterval
	}
	if n.BatchSize <= 0 {
		n.BatchSize = d.batchSize
	}
	if n.BatchSize > MAX_BATCH_SIZE {
		n.BatchSize = MAX_BATCH_SIZE
	}
	if n.ReorgDepth <= 0 {
		n.ReorgDepth = d.reorgDepth
	}
	if n.MaxConcurrentRequests <= 0 {
		n.MaxConcurrentRequests = d.maxConcurrentRequests
	}
	if n.RetentionDays == nil {
		days := d.retentionDays
		n.RetentionDays = &days
	}
	if n.RetryBudget <= 0 {
		n.RetryBudget = DEFAULT_RETRY_BUDGET
	}
	if n.FetchTimeout <= 0 {
		n.FetchTimeout = DEFAULT_FETCH_TIMEOUT
	}
	if n.WriteTimeout <= 0 {
		n.WriteTimeout = DEFAULT_WRITE_TIMEOUT
	}
}
