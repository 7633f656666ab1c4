package comments_test

import (
	"context"
	"testing"

	"github.com/deemkeen/fedigraph/domain"
	"github.com/deemkeen/fedigraph/testrig"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type GraphTestSuite struct {
	suite.Suite
	svc   *testrig.Services
	ctx   context.Context
	alice *domain.Actor
	bob   *domain.Actor
	carol *domain.Actor
	post  *domain.Post
}

func (suite *GraphTestSuite) SetupTest() {
	suite.svc = testrig.NewServices(suite.T())
	suite.ctx = context.Background()
	suite.alice = suite.svc.CreateActor(suite.T(), "alice")
	suite.bob = suite.svc.CreateActor(suite.T(), "bob")
	suite.carol = suite.svc.CreateActor(suite.T(), "carol")
	suite.post = suite.svc.CreatePost(suite.T(), suite.alice, "hello")
}

func (suite *GraphTestSuite) typesFor(actor *domain.Actor) []domain.NotificationType {
	var types []domain.NotificationType
	for _, n := range suite.svc.Notifications(suite.T(), actor) {
		types = append(types, n.Type)
	}
	return types
}

func (suite *GraphTestSuite) TestCreateCommentNotifiesAuthorAndMentions() {
	comment, err := suite.svc.Comments.CreateComment(suite.ctx, suite.post.Id, suite.bob.Id, "nice one @carol, cc @carol@example.com and @bob")
	suite.Require().NoError(err)
	suite.Equal(suite.post.Id, comment.PostID)
	suite.Equal(suite.bob.Id, comment.AuthorID)
	suite.Zero(comment.LikesCount)

	post, err := suite.svc.Posts.GetPost(suite.ctx, suite.post.Id)
	suite.Require().NoError(err)
	suite.Equal(1, post.RepliesCount)

	suite.Equal([]domain.NotificationType{domain.NotificationComment}, suite.typesFor(suite.alice))
	// carol is mentioned twice but notified once; bob mentions himself.
	carolNotes := suite.svc.Notifications(suite.T(), suite.carol)
	suite.Require().Len(carolNotes, 1)
	suite.Equal(domain.NotificationMention, carolNotes[0].Type)
	suite.Equal(comment.Id, *carolNotes[0].CommentID)
	suite.Empty(suite.typesFor(suite.bob))
}

func (suite *GraphTestSuite) TestCommentOnOwnPostDoesNotNotify() {
	_, err := suite.svc.Comments.CreateComment(suite.ctx, suite.post.Id, suite.alice.Id, "replying to myself")
	suite.Require().NoError(err)
	suite.Empty(suite.typesFor(suite.alice))
}

func (suite *GraphTestSuite) TestCreateCommentErrors() {
	_, err := suite.svc.Comments.CreateComment(suite.ctx, uuid.New(), suite.bob.Id, "x")
	suite.True(domain.IsKind(err, domain.KindNotFound), "missing post: %v", err)

	_, err = suite.svc.Comments.CreateComment(suite.ctx, suite.post.Id, uuid.New(), "x")
	suite.True(domain.IsKind(err, domain.KindNotFound), "missing author: %v", err)

	_, err = suite.svc.Comments.CreateComment(suite.ctx, suite.post.Id, suite.bob.Id, " ")
	suite.True(domain.IsKind(err, domain.KindValidation), "empty content: %v", err)

	post, _ := suite.svc.Posts.GetPost(suite.ctx, suite.post.Id)
	suite.Zero(post.RepliesCount)
}

func (suite *GraphTestSuite) TestDeleteComment() {
	comment, err := suite.svc.Comments.CreateComment(suite.ctx, suite.post.Id, suite.bob.Id, "oops")
	suite.Require().NoError(err)

	err = suite.svc.Comments.DeleteComment(suite.ctx, comment.Id, suite.alice.Id)
	suite.True(domain.IsKind(err, domain.KindNotFound), "someone else's comment: %v", err)

	suite.Require().NoError(suite.svc.Comments.DeleteComment(suite.ctx, comment.Id, suite.bob.Id))
	post, err := suite.svc.Posts.GetPost(suite.ctx, suite.post.Id)
	suite.Require().NoError(err)
	suite.Zero(post.RepliesCount)

	err = suite.svc.Comments.DeleteComment(suite.ctx, comment.Id, suite.bob.Id)
	suite.True(domain.IsKind(err, domain.KindNotFound), "already deleted: %v", err)
}

func (suite *GraphTestSuite) TestListForPost() {
	for _, text := range []string{"first", "second", "third"} {
		suite.svc.Clock.Advance(1)
		_, err := suite.svc.Comments.CreateComment(suite.ctx, suite.post.Id, suite.bob.Id, text)
		suite.Require().NoError(err)
	}

	page, err := suite.svc.Comments.ListForPost(suite.ctx, suite.post.Id, domain.Page{Limit: 2, Offset: 1})
	suite.Require().NoError(err)
	suite.Equal(3, page.Total)
	suite.Require().Len(page.Items, 2)
	suite.Equal("second", page.Items[0].Content)
	suite.Equal("third", page.Items[1].Content)

	_, err = suite.svc.Comments.ListForPost(suite.ctx, uuid.New(), domain.Page{})
	suite.True(domain.IsKind(err, domain.KindNotFound))
}

func (suite *GraphTestSuite) TestLikeComment() {
	comment, err := suite.svc.Comments.CreateComment(suite.ctx, suite.post.Id, suite.bob.Id, "like me")
	suite.Require().NoError(err)

	liked, applied, err := suite.svc.Comments.Like(suite.ctx, comment.Id, suite.carol.Id)
	suite.Require().NoError(err)
	suite.True(applied)
	suite.Equal(1, liked.LikesCount)
	suite.Equal([]uuid.UUID{suite.carol.Id}, liked.LikedBy)

	_, applied, err = suite.svc.Comments.Like(suite.ctx, comment.Id, suite.carol.Id)
	suite.Require().NoError(err)
	suite.False(applied)

	unliked, applied, err := suite.svc.Comments.Unlike(suite.ctx, comment.Id, suite.carol.Id)
	suite.Require().NoError(err)
	suite.True(applied)
	suite.Zero(unliked.LikesCount)

	_, applied, err = suite.svc.Comments.Unlike(suite.ctx, comment.Id, suite.carol.Id)
	suite.Require().NoError(err)
	suite.False(applied)

	_, _, err = suite.svc.Comments.Like(suite.ctx, uuid.New(), suite.carol.Id)
	suite.True(domain.IsKind(err, domain.KindNotFound))
}

func TestGraphTestSuite(t *testing.T) {
	suite.Run(t, new(GraphTestSuite))
}
