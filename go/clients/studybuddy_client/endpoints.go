package studybuddy_client

const (
	roomsEndpoint    = "/rooms"
	timerEndpoint    = "/timer"
	messagesEndpoint = "/messages/room"
	friendsEndpoint  = "/friends/users"
	usersEndpoint    = "/users"
	dmEndpoint       = "/dm"
)
