package utils

import (
	"strings"

	"github.com/google/uuid"
)

// inviteAlphabet 邀请码字符集（去掉易混淆的 0/O/1/I/L）
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateSessionID 生成会话ID
func GenerateSessionID() string {
	return uuid.New().String()
}

// GenerateInviteCode 生成指定长度的邀请码
// 以uuid的随机字节为熵源，映射到人类易读的字符集。
func GenerateInviteCode(length int) string {
	if length <= 0 {
		length = 6
	}

	var sb strings.Builder
	sb.Grow(length)

	for sb.Len() < length {
		id := uuid.New()
		for _, b := range id[:] {
			sb.WriteByte(inviteAlphabet[int(b)%len(inviteAlphabet)])
			if sb.Len() >= length {
				break
			}
		}
	}

	return sb.String()
}
