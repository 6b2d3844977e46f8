package cache

import "fmt"

// 键语义：
// - roomKey(docID):           文档在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - namesKey(docID):          文档内 userId→username 映射（Hash）
// - docsKey():                有过在线成员的文档索引（Set<docID>）
// - inboxKey(userID):         离线通知（List，最新在前）
// - inboxDedupKey(uid, key):  离线通知去重标记（String + TTL）

const (
	keyRoomFmt       = "presence:room:{docID:%s}"       // ZSet<userId, expireAtUnix>
	keyNamesFmt      = "presence:room:names:{docID:%s}" // Hash<userId -> username>
	keyDocsSet       = "presence:docs"                  // Set<docID>
	keyInboxFmt      = "notifications:user:%s"
	keyInboxDedupFmt = "notif_dedup:%s:%s"
)

// Pub/Sub 频道
const (
	channelUserFmt = "notify:user:%s"
	channelRoleFmt = "notify:role:%s"
	channelGlobal  = "notify:global"
	channelPattern = "notify:*"
)

func roomKey(docID string) string  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string { return fmt.Sprintf(keyNamesFmt, docID) }
func docsKey() string              { return keyDocsSet }

func inboxKey(userID string) string { return fmt.Sprintf(keyInboxFmt, userID) }
func inboxDedupKey(userID, dedup string) string {
	return fmt.Sprintf(keyInboxDedupFmt, userID, dedup)
}
