package wire

// Kind is the tag of a frame.
type Kind string

const (
	KindPub    Kind = "PUB"
	KindJoin   Kind = "JOIN"
	KindList   Kind = "LIST"
	KindQuery  Kind = "QUERY"
	KindDelete Kind = "DELETE"
	KindDiff   Kind = "DIFF"
	KindReDiff Kind = "RE_DIFF"
	KindRS     Kind = "RS"
	KindReRS   Kind = "RE_RS"
	KindSum    Kind = "SUM"
	KindReSum  Kind = "RE_SUM"
	KindDSum   Kind = "DSUM"
	KindReDSum Kind = "RE_DSUM"
	KindGet    Kind = "GET"
	KindAuth   Kind = "AUTH"
	KindMsg    Kind = "MSG"
	KindOrder  Kind = "ORDER"
	KindFriend Kind = "FRIEND"
)

// Kinds lists every known tag.
var Kinds = []Kind{
	KindPub, KindJoin, KindList, KindQuery, KindDelete,
	KindDiff, KindReDiff, KindRS, KindReRS,
	KindSum, KindReSum, KindDSum, KindReDSum,
	KindGet, KindAuth, KindMsg, KindOrder, KindFriend,
}

// fields is the number of '@' separated fields after the tag. The last field
// takes the rest of the frame.
var fields = map[Kind]int{
	KindPub:    2,
	KindJoin:   2,
	KindList:   2,
	KindQuery:  1,
	KindDelete: 1,
	KindDiff:   2,
	KindReDiff: 2,
	KindRS:     2,
	KindReRS:   2,
	KindSum:    2,
	KindReSum:  2,
	KindDSum:   2,
	KindReDSum: 2,
	KindGet:    4, // the trailing signature is optional
	KindAuth:   2,
	KindMsg:    1,
	KindOrder:  2,
	KindFriend: 2,
}
