package config

import "fmt"

// Logical network identifiers accepted by ClientConfig.Network.
const (
	EthereumMainnet = "ethereum"
	EthereumTestnet = "ethereum-sepolia"
	BlastMainnet    = "blast"
	BlastTestnet    = "blast-sepolia"
	Arbitrum        = "arbitrum"
	Base            = "base"
	Sonic           = "sonic"
)

// wsURLs maps each logical network to its websocket endpoint. The newer
// chains are served by the mainnet cluster.
var wsURLs = map[string]string{
	EthereumMainnet: "wss://api.rabbitx.com/ws",
	EthereumTestnet: "wss://api.testnet.rabbitx.io/ws",
	BlastMainnet:    "wss://api.bfx.trade/ws",
	BlastTestnet:    "wss://api.testnet.blastfutures.com/ws",
	Arbitrum:        "wss://api.rabbitx.com/ws",
	Base:            "wss://api.rabbitx.com/ws",
	Sonic:           "wss://api.rabbitx.com/ws",
}

var apiURLs = map[string]string{
	EthereumMainnet: "https://api.rabbitx.com",
	EthereumTestnet: "https://api.testnet.rabbitx.io",
	BlastMainnet:    "https://api.blastfutures.com",
	BlastTestnet:    "https://api.testnet.blastfutures.com",
	Arbitrum:        "https://api.rabbitx.com",
	Base:            "https://api.rabbitx.com",
	Sonic:           "https://api.rabbitx.com",
}

// WebsocketURL returns the websocket endpoint for a logical network.
func WebsocketURL(network string) (string, error) {
	url, ok := wsURLs[network]
	if !ok {
		return "", fmt.Errorf("invalid network: %s", network)
	}
	return url, nil
}

// APIURL returns the REST endpoint for a logical network.
func APIURL(network string) (string, error) {
	url, ok := apiURLs[network]
	if !ok {
		return "", fmt.Errorf("invalid network: %s", network)
	}
	return url, nil
}

// Networks lists the known logical network identifiers.
func Networks() []string {
	return []string{
		EthereumMainnet,
		EthereumTestnet,
		BlastMainnet,
		BlastTestnet,
		Arbitrum,
		Base,
		Sonic,
	}
}
