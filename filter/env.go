package filter

/*
Here the Env used in the looking-for-game message filters is defined.
Once this struct is fixed, it should not be changed, otherwise filter
expressions stored in operator configurations may not compile any more
(f.e. if properties are renamed etc.)
*/

type Author struct {
	Id      string
	Nick    string
	Bot     bool
	RoleIds []string
}

type Message struct {
	Id               string
	ChannelId        string
	Content          string
	MentionsEveryone bool
	MentionRoleIds   []string
	AgeSeconds       int64
}

type Env struct {
	Author
	Message
}
