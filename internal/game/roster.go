package game

import "github.com/wfunc/story-game/internal/models"

// ConnectedFunc 连接状态判定函数
type ConnectedFunc func(playerIndex int) bool

// NextEligiblePlayer 从 current 的下一位开始，按回合顺序环绕扫描一圈，
// 返回第一个满足判定的玩家序号。正常推进与离线跳过共用这一个函数。
// 找不到时返回 (-1, false)。
func NextEligiblePlayer(roster []models.StoryPlayer, current int, eligible ConnectedFunc) (int, bool) {
	n := len(roster)
	if n == 0 {
		return -1, false
	}
	for step := 1; step <= n; step++ {
		idx := (current + step) % n
		player, ok := findByIndex(roster, idx)
		if !ok || !player.IsActive {
			continue
		}
		if eligible(idx) {
			return idx, true
		}
	}
	return -1, false
}

// findByIndex 在花名册中按回合序号查找
func findByIndex(roster []models.StoryPlayer, index int) (*models.StoryPlayer, bool) {
	for i := range roster {
		if roster[i].PlayerIndex == index {
			return &roster[i], true
		}
	}
	return nil, false
}
