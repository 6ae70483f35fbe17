package bot

const (
	welcomeText = "━━━━━━━━━━━━━━━━━━━━━\n" +
		"*🎊 Welcome %s!*\n" +
		"━━━━━━━━━━━━━━━━━━━━━\n\n" +
		"🤖 I am a *Channel Link Protection Bot*.\n" +
		"I turn your channel and group invites into protected links.\n\n" +
		"*🛠 Available Commands:*\n" +
		"• /protect - Generate a protected link\n" +
		"• /post - Build a shareable post\n" +
		"• /channels - Channel directory\n" +
		"• /geo - Geo lookup of the bot connection\n\n" +
		"*📝 Example:*\n" +
		"`/protect https://t.me/yourchannel`"

	helpText = "👋 Hi! I'm a channel link protection bot.\n\n" +
		"*Available Commands:*\n" +
		"• /start - Start the bot\n" +
		"• /protect - Generate a protected link"

	protectUsageText = "❌ *Please provide a valid Telegram link*\n" +
		"Example: `/protect https://t.me/yourchannel`"

	protectedText = "✅ *Link Generated Successfully!*\n\n" +
		"🔗 Your link: `%s`\n\n" +
		"📝 When users click this link:\n" +
		"1. Bot will start automatically\n" +
		"2. They'll see a secure join button\n" +
		"3. Channel link will be protected\n\n" +
		"🔄 Use the button below to share"

	joinText = "🎉 *Welcome to Protected Channel Link!*\n\n" +
		"🔐 Click the button below to join securely:\n\n" +
		"_This link is protected by our secure system_"

	linkExpiredText   = "⌛ This link is expired or invalid."
	verifyExpiredText = "⌛ This verification link is expired or invalid. Send /start to get a new one."
	verifyText        = "🛡 *Verification required*\n\nOpen the page below once to confirm your region, then you will be sent back here."
	bannedText        = "🚫 You are banned from using this bot."
	regionDeniedText  = "🚫 This bot is only available for users from %s."
	failedText        = "⚠️ Something went wrong. Please try again."
	rateLimitedText   = "⏳ Slow down a little, please."

	postUsageText     = "❌ *Please provide a valid Telegram link*\nExample: `/post https://t.me/yourchannel`"
	askCaptionText    = "✍️ *Send me the caption for your post*\n\nUse /cancel to stop."
	askImageText      = "🖼 *Would you like to add an image to your post?*"
	sendImageText     = "📤 *Send me an image for your post*"
	noPostText        = "❓ Would you like to create a protected link?\nUse `/post https://t.me/yourchannel` to build a post."
	postCancelledText = "❌ Post cancelled."
	postText          = "🔐 *Protected Channel Link*\n\n%s🔗 *Join here:* %s\n\n_Secured by @%s_"

	channelsText = "🔥 *Channels Directory*\n" +
		"━━━━━━━━━━━━━━━━━━━━━\n\n" +
		"*Select any channel below to join:*\n" +
		"_All links are protected and secure_ 🔒"
	noChannelsText = "No channels are configured yet."
	channelText    = "🎉 *%s*\n\n🔐 Click the button below to join securely:"

	geoText = "🌐 *Bot Connection IP Information*\n\n" +
		"🔍 *IP:* `%s`\n" +
		"🌍 *Country:* `%s`\n" +
		"🏘️ *Region:* `%s`\n" +
		"🏙️ *City:* `%s`\n" +
		"🏢 *ISP:* `%s`\n" +
		"⏰ *Timezone:* `%s`\n\n"
	geoAllowedText = "✅ *Status:* You are allowed to use this bot!"
	geoDeniedText  = "🚫 *Status:* You are not allowed to use this bot (%s only)"

	broadcastUsageText   = "*📢 Broadcast Usage*\n\n*1.* Reply to any message with /broadcast\n*2.* Use `/broadcast your message`"
	broadcastConfirmText = "📢 *Broadcast to %d users?*"
	broadcastBusyText    = "⏳ A broadcast is already running. Use /stopbroadcast to stop it."
	broadcastGoneText    = "❌ Broadcast data not found!"
	broadcastCancelText  = "❌ Broadcast Cancelled!"
	broadcastNoUsersText = "❌ No users found in database!"
	broadcastStartText   = "🚀 Broadcasting message..."
	broadcastProgText    = "🚀 Broadcasting...\n\n✅ Sent: %d\n❌ Failed: %d\n⏳ Remaining: %d"
	broadcastDoneText    = "✅ *Broadcast Completed!*\n\n📊 *Statistics:*\n• Total Users: %d\n• Successful: %d\n• Failed: %d\n\n🕒 Completed at: %s"
	broadcastStoppedText = "🛑 *Broadcast Stopped!*\n\n📊 *Statistics:*\n• Total Users: %d\n• Successful: %d\n• Failed: %d"
	noBroadcastText      = "There is no broadcast running."
	stoppingText         = "🛑 Stopping the broadcast after the current message."

	banUsageText   = "Use: /ban [user_id]"
	unbanUsageText = "Use: /unban [user_id]"
	badUserIDText  = "Invalid user ID"
	bannedUserText = "Banned user: %d"
	unbannedText   = "Unbanned user: %d"
	notBannedText  = "User %d is not banned"

	statsText = "📊 *Bot Statistics*\n\n" +
		"👥 Subscribers: `%d`\n" +
		"🔗 Protected links: `%d`\n" +
		"✅ Verified users: `%d`\n" +
		"🚫 Banned users: `%d`\n" +
		"🗂 Checked this run: `%d`\n\n" +
		"🌍 *Users by Country:*\n"
)
