package chain

// Params describes a network the gateway knows how to sign for
type Params struct {
	ID      uint64
	Name    string
	Symbol  string
	Testnet bool
}

// knownChains 是受支持网络的静态参数表; 只有同时出现在配置 RPC 映射中的网络才会启用
var knownChains = map[uint64]Params{
	1:        {ID: 1, Name: "Ethereum", Symbol: "ETH"},
	11155111: {ID: 11155111, Name: "Sepolia", Symbol: "ETH", Testnet: true},
	17000:    {ID: 17000, Name: "Holesky", Symbol: "ETH", Testnet: true},
	8453:     {ID: 8453, Name: "Base", Symbol: "ETH"},
	84532:    {ID: 84532, Name: "Base Sepolia", Symbol: "ETH", Testnet: true},
	10:       {ID: 10, Name: "OP Mainnet", Symbol: "ETH"},
	11155420: {ID: 11155420, Name: "OP Sepolia", Symbol: "ETH", Testnet: true},
	534352:   {ID: 534352, Name: "Scroll", Symbol: "ETH"},
	534351:   {ID: 534351, Name: "Scroll Sepolia", Symbol: "ETH", Testnet: true},
	59144:    {ID: 59144, Name: "Linea Mainnet", Symbol: "ETH"},
	59141:    {ID: 59141, Name: "Linea Sepolia", Symbol: "ETH", Testnet: true},
}

// LookupParams returns the built-in parameters for id
func LookupParams(id uint64) (Params, bool) {
	p, ok := knownChains[id]
	return p, ok
}
