package bot

// Fixed replies shown to users.
const (
	MsgNotAURL          = "格式错误，请发送一个 URL，或检查您的 URL 是否正确"
	MsgNoCandidates     = "抱歉，由于数据库错误或是没有相应的 rhash 所以无法为您生成 Instant View 链接"
	MsgKeyDerivation    = "无法生成由用户生成的 hash 字符串"
	MsgDefaultDeleted   = "已删除对应的默认设置"
	MsgDefaultNotFound  = "没找到对应的默认设置"
	MsgDefaultDeleteErr = "删除默认 rhash 失败"
)

// Inline result titles.
const (
	inlineTitleDirect  = "Instant View"
	inlineTitleFailure = "无法生成 Instant View 链接"
)

const usageText = "发送一个文章 URL，我会为它生成 Instant View 链接。\n\n" +
	"如果有多个可用的 rhash，可以用 < 和 > 切换，选定 使用当前的 rhash，设为默认 会在之后对同一网站直接使用它。\n\n" +
	"发送一个完整的 Instant View 链接（https://t.me/iv?url=...&rhash=...）可以为该网站登记新的 rhash。\n\n" +
	"命令:\n" +
	"/deleteDefaultRhash <URL> - 删除该网站的默认 rhash\n" +
	"/help - 显示本说明\n\n" +
	"也可以在任意聊天中通过 inline 模式使用: @机器人 <URL>"
