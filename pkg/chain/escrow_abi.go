package chain

// EscrowABI 托管合约中卖家侧使用的函数与自定义错误
const EscrowABI = `[
	{
		"inputs": [
			{"name": "orderId", "type": "uint256"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "withdrawFromOrder",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "orderId", "type": "uint256"},
			{"name": "newRate", "type": "uint256"}
		],
		"name": "updateExchangeRate",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "orderId", "type": "uint256"}],
		"name": "orders",
		"outputs": [
			{"name": "seller", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "totalAmount", "type": "uint256"},
			{"name": "remainingAmount", "type": "uint256"},
			{"name": "exchangeRate", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{"inputs": [], "name": "OrderNotFound", "type": "error"},
	{"inputs": [], "name": "OnlySeller", "type": "error"},
	{"inputs": [], "name": "InsufficientRemaining", "type": "error"},
	{"inputs": [], "name": "InvalidAmount", "type": "error"},
	{"inputs": [], "name": "InvalidExchangeRate", "type": "error"}
]`
