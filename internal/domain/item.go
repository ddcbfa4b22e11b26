package domain

// ItemStack 表示一个物品附件。
//
// 对本系统而言内容是透明的：仅由 codec 包序列化/反序列化，
// 由物品发放接口消费，核心流程从不解释其字段。
type ItemStack struct {
	TypeID string `json:"typeId"`
	Amount int    `json:"amount"`
	Data   string `json:"data,omitempty"` // 游戏侧自定义数据（NBT 等），原样透传
}
